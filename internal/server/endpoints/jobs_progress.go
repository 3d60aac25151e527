package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/api"
	"github.com/jackzampolin/intake/internal/progress"
	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/svcctx"
)

// JobProgressEndpoint handles GET /api/jobs/{id}/progress.
type JobProgressEndpoint struct{}

func (e *JobProgressEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/progress", e.handler
}

func (e *JobProgressEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Job progress snapshot
//	@Description	Point-in-time progress read; use the events endpoint to stream
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	progress.Event
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/progress [get]
func (e *JobProgressEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	pub := svcctx.PublisherFrom(r.Context())
	if pub == nil {
		writeError(w, http.StatusServiceUnavailable, "publisher not initialized")
		return
	}

	ev, err := pub.Snapshot(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (e *JobProgressEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id>",
		Short: "Get a job's progress snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var ev progress.Event
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/progress", &ev); err != nil {
				return err
			}
			return api.Output(ev)
		},
	}
}
