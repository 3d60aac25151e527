package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/api"
	"github.com/jackzampolin/intake/internal/pipeline"
	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/svcctx"
	"github.com/jackzampolin/intake/internal/types"
)

// RetryRequest is the optional retry body.
type RetryRequest struct {
	// FromStage rewinds further back than the failed stage (optional).
	FromStage types.Stage `json:"from_stage,omitempty"`
}

// RetryJobEndpoint handles POST /api/jobs/{id}/retry.
type RetryJobEndpoint struct{}

func (e *RetryJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/retry", e.handler
}

func (e *RetryJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Retry a failed job
//	@Description	Accepts the retry and re-runs asynchronously; refused past the attempt ceiling
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Job ID"
//	@Param			body	body		RetryRequest	false	"Retry options"
//	@Success		202	{object}	pipeline.RetryAck
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/retry [post]
func (e *RetryJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	run := svcctx.RunnerFrom(r.Context())
	if run == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not initialized")
		return
	}

	var req RetryRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	ack, err := run.Retry(r.Context(), r.PathValue("id"), req.FromStage)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, store.ErrRetryCeiling):
		writeError(w, http.StatusConflict, "maximum retry attempts reached; re-upload the document to start over")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, ack)
}

func (e *RetryJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var fromStage string
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var ack pipeline.RetryAck
			req := RetryRequest{FromStage: types.Stage(fromStage)}
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/retry", req, &ack); err != nil {
				return err
			}
			return api.Output(ack)
		},
	}
	cmd.Flags().StringVar(&fromStage, "from-stage", "", "Stage to retry from (defaults to the failed stage)")
	return cmd
}
