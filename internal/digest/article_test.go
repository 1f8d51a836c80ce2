package digest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shpitdev/digestflow/internal/digest"
)

func TestCanonicalURL_StripsTrackingAndFragment(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{
			"https://medium.com/@jane/post-1?source=email-digest&utm_medium=email#section",
			"https://medium.com/@jane/post-1",
		},
		{
			"https://medium.com/@jane/post-1?page=2&utm_source=newsletter",
			"https://medium.com/@jane/post-1?page=2",
		},
		{
			"  https://medium.com/@jane/post-1  ",
			"https://medium.com/@jane/post-1",
		},
		{
			"://not a url",
			"://not a url",
		},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, digest.CanonicalURL(tc.in), "in=%s", tc.in)
	}
}

func TestNewArticle_IdentityIsStablePerCanonicalURL(t *testing.T) {
	t.Parallel()

	a := digest.NewArticle("https://medium.com/@jane/post-1?source=email-digest", " Title ", " Jane ")
	b := digest.NewArticle("https://medium.com/@jane/post-1?utm_source=other", "Title", "Jane")
	c := digest.NewArticle("https://medium.com/@jane/post-2", "Title", "Jane")

	assert.Equal(t, a.ID, b.ID, "tracking variants must share one identity")
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, "https://medium.com/@jane/post-1", a.URL)
	assert.Equal(t, "Title", a.Title)
	assert.Equal(t, "Jane", a.Author)
}
