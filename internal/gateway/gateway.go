package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transferit/transferit/internal/catalog"
	"github.com/transferit/transferit/internal/discovery"
	"github.com/transferit/transferit/internal/holding"
	"github.com/transferit/transferit/internal/transfer"
	"github.com/transferit/transferit/pkg/log"
)

// Gateway is the HTTP stand-in for the browser presentation layer. It is
// read-only with respect to core state: every mutation goes through the
// discovery service or the orchestrator's defined operations.
type Gateway struct {
	router *chi.Mux
	disc   *discovery.Service
	orch   *transfer.Orchestrator
	cat    *catalog.Catalog

	discoveries prometheus.Counter
	submissions *prometheus.CounterVec
}

func New(disc *discovery.Service, orch *transfer.Orchestrator, cat *catalog.Catalog) *Gateway {
	g := &Gateway{
		disc: disc,
		orch: orch,
		cat:  cat,
		discoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transferit_discovery_runs_total",
			Help: "Completed holdings discovery runs.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transferit_transfer_submissions_total",
			Help: "Transfer submissions by outcome.",
		}, []string{"outcome"}),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(g.discoveries, g.submissions)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/discover", g.handleDiscover)
	r.Get("/holdings", g.handleHoldings)
	r.Get("/catalog", g.handleCatalog)
	r.Get("/session", g.handleSession)
	r.Post("/holding/select", g.handleSelectHolding)
	r.Post("/transfer/amount", g.handleSetAmount)
	r.Post("/transfer/recipient", g.handleSetRecipient)
	r.Post("/recipient/validate", g.handleValidateRecipient)
	r.Post("/transfer", g.handleSubmitTransfer)
	r.Post("/transfer/provision/confirm", g.handleConfirmProvisioning)
	r.Post("/transfer/provision/cancel", g.handleCancelProvisioning)
	r.Post("/transfer/dismiss", g.handleDismissResult)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	g.router = r
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

type holdingView struct {
	Account  string  `json:"account"`
	Mint     string  `json:"mint,omitempty"`
	Amount   float64 `json:"amount"`
	Decimals uint8   `json:"decimals"`
	Name     string  `json:"name,omitempty"`
	Symbol   string  `json:"symbol,omitempty"`
	Label    string  `json:"label"`
	Native   bool    `json:"native"`
}

func viewOf(h holding.Holding) holdingView {
	v := holdingView{
		Account:  h.Account.String(),
		Amount:   h.Amount,
		Decimals: h.Decimals,
		Name:     h.Name,
		Symbol:   h.Symbol,
		Label:    h.Label(),
		Native:   h.IsNative(),
	}
	if !h.IsNative() {
		v.Mint = h.Mint.String()
	}
	return v
}

type sessionView struct {
	Phase              string       `json:"phase"`
	Request            *requestView `json:"request,omitempty"`
	AmountValid        bool         `json:"amountValid"`
	RecipientValid     bool         `json:"recipientValid"`
	Signature          string       `json:"signature,omitempty"`
	ProvisionSignature string       `json:"provisionSignature,omitempty"`
	ExplorerURL        string       `json:"explorerUrl,omitempty"`
	Error              string       `json:"error,omitempty"`
}

type requestView struct {
	Source    holdingView `json:"source"`
	Amount    float64     `json:"amount"`
	Recipient string      `json:"recipient"`
}

func sessionViewOf(s transfer.Snapshot) sessionView {
	v := sessionView{
		Phase:          s.Phase.String(),
		AmountValid:    s.AmountValid,
		RecipientValid: s.RecipientValid,
		ExplorerURL:    s.ExplorerURL,
	}
	if s.Phase != transfer.PhaseIdle {
		v.Request = &requestView{
			Source:    viewOf(s.Request.Source),
			Amount:    s.Request.Amount,
			Recipient: s.Request.Recipient,
		}
	}
	if !s.Signature.IsZero() {
		v.Signature = s.Signature.String()
	}
	if !s.ProvisionSignature.IsZero() {
		v.ProvisionSignature = s.ProvisionSignature.String()
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}

func (g *Gateway) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := solana.PublicKeyFromBase58(body.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := g.disc.Discover(r.Context(), owner)
	if errors.Is(err, discovery.ErrSuperseded) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	g.discoveries.Inc()
	writeJSON(w, http.StatusOK, viewsOf(list))
}

func (g *Gateway) handleHoldings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewsOf(g.disc.Holdings()))
}

type catalogEntryView struct {
	Mint     string `json:"mint"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func (g *Gateway) handleCatalog(w http.ResponseWriter, r *http.Request) {
	listed, err := g.cat.Entries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]catalogEntryView, 0, len(listed))
	for _, l := range listed {
		views = append(views, catalogEntryView{
			Mint:     l.Mint.String(),
			Name:     l.Entry.Name,
			Symbol:   l.Entry.Symbol,
			Decimals: l.Entry.Decimals,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionViewOf(g.orch.Snapshot()))
}

func (g *Gateway) handleSelectHolding(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account string `json:"account"`
		Mint    string `json:"mint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := solana.PublicKeyFromBase58(body.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var mint solana.PublicKey
	if body.Mint != "" {
		if mint, err = solana.PublicKeyFromBase58(body.Mint); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	key := holding.Key{Account: account, Mint: mint}
	for _, h := range g.disc.Holdings() {
		if h.Key() == key {
			g.orch.SelectHolding(h)
			writeJSON(w, http.StatusOK, viewOf(h))
			return
		}
	}
	writeError(w, http.StatusNotFound, errors.New("holding not found"))
}

func (g *Gateway) handleSetAmount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g.orch.SetAmount(body.Amount)
	writeJSON(w, http.StatusOK, sessionViewOf(g.orch.Snapshot()))
}

func (g *Gateway) handleSetRecipient(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g.orch.SetRecipient(body.Address)
	writeJSON(w, http.StatusOK, sessionViewOf(g.orch.Snapshot()))
}

func (g *Gateway) handleValidateRecipient(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": g.orch.ValidateRecipient(body.Address)})
}

func (g *Gateway) handleSubmitTransfer(w http.ResponseWriter, r *http.Request) {
	err := g.orch.SubmitTransfer(r.Context())
	g.countSubmission(err)
	g.respondWithSession(w, err)
}

func (g *Gateway) handleConfirmProvisioning(w http.ResponseWriter, r *http.Request) {
	err := g.orch.ConfirmProvisioning(r.Context())
	g.countSubmission(err)
	g.respondWithSession(w, err)
}

func (g *Gateway) handleCancelProvisioning(w http.ResponseWriter, r *http.Request) {
	g.respondWithSession(w, g.orch.CancelProvisioning())
}

func (g *Gateway) handleDismissResult(w http.ResponseWriter, r *http.Request) {
	g.orch.DismissResult()
	writeJSON(w, http.StatusOK, sessionViewOf(g.orch.Snapshot()))
}

func (g *Gateway) countSubmission(err error) {
	switch {
	case err == nil:
		g.submissions.WithLabelValues("accepted").Inc()
	case errors.Is(err, transfer.ErrSubmissionRejected):
		g.submissions.WithLabelValues("rejected").Inc()
	case errors.Is(err, transfer.ErrProvisioningFailed):
		g.submissions.WithLabelValues("provisioning-failed").Inc()
	default:
		g.submissions.WithLabelValues("invalid").Inc()
	}
}

func (g *Gateway) respondWithSession(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, statusOf(err), sessionViewOf(g.orch.Snapshot()))
		return
	}
	writeJSON(w, http.StatusOK, sessionViewOf(g.orch.Snapshot()))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, transfer.ErrNotConnected),
		errors.Is(err, transfer.ErrTransferInFlight),
		errors.Is(err, transfer.ErrNoPendingProvision):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrNoHoldingSelected),
		errors.Is(err, transfer.ErrInsufficientBalance),
		errors.Is(err, transfer.ErrInvalidRecipient):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func viewsOf(list []holding.Holding) []holdingView {
	views := make([]holdingView, 0, len(list))
	for _, h := range list {
		views = append(views, viewOf(h))
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Gateway.Warn().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
