package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/api"
	"github.com/jackzampolin/intake/internal/ingest"
	"github.com/jackzampolin/intake/internal/svcctx"
	"github.com/jackzampolin/intake/internal/types"
)

// maxMultipartMemory bounds in-memory buffering of multipart uploads.
const maxMultipartMemory = 32 << 20

// SubmitJobEndpoint handles POST /api/jobs.
type SubmitJobEndpoint struct{}

func (e *SubmitJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *SubmitJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Submit a document
//	@Description	Uploads a document, creates a queued job, and starts processing it
//	@Tags			jobs
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Document (pdf, txt, vtt, srt, md, json)"
//	@Success		202	{object}	types.Job
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *SubmitJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ing := svcctx.IngestorFrom(r.Context())
	if ing == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestor not initialized")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading upload: "+err.Error())
		return
	}

	job, err := ing.Ingest(r.Context(), header.Filename, content)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (e *SubmitJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a document for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			client := api.NewClient(getServerURL())
			var job types.Job
			if err := client.Upload(cmd.Context(), "/api/jobs", "file", filepath.Base(args[0]), f, &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
}
