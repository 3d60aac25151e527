package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/api"
	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/svcctx"
	"github.com/jackzampolin/intake/internal/types"
)

// ProfileResponse is the client profile assembled from materialized items
// across all jobs, grouped by section.
type ProfileResponse struct {
	Business  []types.Item `json:"business"`
	Technical []types.Item `json:"technical"`
}

// ProfileEndpoint handles GET /api/profile.
type ProfileEndpoint struct{}

func (e *ProfileEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/profile", e.handler
}

func (e *ProfileEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Client profile
//	@Description	All materialized items grouped into business and technical sections
//	@Tags			items
//	@Produce		json
//	@Param			status	query		string	false	"Filter by status (PENDING, APPROVED, REJECTED)"
//	@Success		200	{object}	ProfileResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/profile [get]
func (e *ProfileEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	items, err := st.ListItems(r.Context(), store.ItemFilter{
		Status: types.ItemStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ProfileResponse{Business: []types.Item{}, Technical: []types.Item{}}
	for _, it := range items {
		switch it.Section {
		case types.SectionBusiness:
			resp.Business = append(resp.Business, it)
		case types.SectionTechnical:
			resp.Technical = append(resp.Technical, it)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ProfileEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the client profile grouped by section",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/profile"
			if status != "" {
				path += "?status=" + status
			}
			var resp ProfileResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}
