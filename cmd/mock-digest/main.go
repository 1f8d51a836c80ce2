// mock-digest serves a local stand-in for the pipeline's external services:
// article pages under /articles/, a generateContent-shaped model endpoint, a
// Slack-shaped webhook at /webhook, and a synthetic digest email at
// /digest.eml whose links point back at the server.
//
// Point the pipeline at it for a fully offline run:
//
//	mock-digest --listen 127.0.0.1:8931
//	digestflow run --config config.mock.yaml --input <(curl -s http://127.0.0.1:8931/digest.eml)
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/shpitdev/digestflow/internal/mockdigest"
)

func main() {
	fs := flag.NewFlagSet("mock-digest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	listen := fs.String("listen", "127.0.0.1:8931", "Address to listen on")
	apiKey := fs.String("require-api-key", "", "If set, model calls must present this API key")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	srv := mockdigest.New(mockdigest.SampleArticles())
	if *apiKey != "" {
		srv.RequireAPIKey(*apiKey)
	}

	fmt.Printf("mock-digest listening on http://%s\n", *listen)
	if err := http.ListenAndServe(*listen, srv.Handler()); err != nil {
		fmt.Fprintf(os.Stderr, "mock-digest: %v\n", err)
		os.Exit(1)
	}
}
