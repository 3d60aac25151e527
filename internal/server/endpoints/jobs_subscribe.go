package endpoints

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/svcctx"
)

// SubscribeJobEndpoint handles GET /api/jobs/{id}/events (SSE).
type SubscribeJobEndpoint struct{}

func (e *SubscribeJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/events", e.handler
}

func (e *SubscribeJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Stream job progress
//	@Description	Server-sent events: an immediate snapshot, then an event per change; the stream ends after the terminal event
//	@Tags			jobs
//	@Produce		text/event-stream
//	@Param			id	path	string	true	"Job ID"
//	@Success		200	{string}	string	"SSE stream of progress.Event"
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/events [get]
func (e *SubscribeJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	pub := svcctx.PublisherFrom(r.Context())
	if pub == nil {
		writeError(w, http.StatusServiceUnavailable, "publisher not initialized")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := pub.Subscribe(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func (e *SubscribeJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Stream a job's progress until it completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := getServerURL() + "/api/jobs/" + args[0] + "/events"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return err
			}

			// No client timeout: the stream stays open until terminal.
			resp, err := http.DefaultTransport.RoundTrip(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server error (%d)", resp.StatusCode)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if payload, ok := strings.CutPrefix(line, "data: "); ok {
					fmt.Println(payload)
				}
			}
			return scanner.Err()
		},
	}
}
