package routerd

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/common"
	"github.com/omnihop/router/pkg/router"
	"github.com/omnihop/router/pkg/types"
)

// apiServer exposes the routing engine over HTTP. In the dev environment the
// compose endpoint stands in for transport delivery and a mint endpoint funds
// accounts, so a full round trip can be driven from the outside.
type apiServer struct {
	logger        *zap.Logger
	router        *router.Router
	collaborators *collaboratorSet
	endpoint      types.Account
	env           common.Environment
}

func newAPIServer(logger *zap.Logger, rtr *router.Router, collaborators *collaboratorSet, endpoint types.Account, env common.Environment) *apiServer {
	return &apiServer{
		logger:        logger.Named("api"),
		router:        rtr,
		collaborators: collaborators,
		endpoint:      endpoint,
		env:           env,
	}
}

func (s *apiServer) handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/compose", s.handleCompose).Methods(http.MethodPost)
	r.HandleFunc("/v1/wrap_and_bridge", s.handleWrapAndBridge).Methods(http.MethodPost)
	r.HandleFunc("/v1/quote", s.handleQuote).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/routes", s.handleRegisterRoute).Methods(http.MethodPost)
	if s.env == common.UnsafeDevNet {
		r.HandleFunc("/v1/devnet/mint", s.handleDevnetMint).Methods(http.MethodPost)
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return n, nil
}

type composeRequest struct {
	Caller    string `json:"caller"`
	OApp      string `json:"oapp"`
	ID        string `json:"id"`
	Payload   string `json:"payload"`
	FeeBudget string `json:"feeBudget"`
}

func (s *apiServer) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// In the dev environment an omitted caller defaults to the configured
	// endpoint, so a round trip can be driven without extra plumbing.
	var caller types.Account
	var err error
	if req.Caller == "" && s.env == common.UnsafeDevNet {
		caller = s.endpoint
	} else if caller, err = types.StringToAccount(req.Caller); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := types.StringToGUID(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payload, err := hexutil.Decode(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	feeBudget, err := parseAmount(req.FeeBudget)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.router.HandleCompose(caller, ethCommon.HexToAddress(req.OApp), id, payload, feeBudget)
	switch {
	case errors.Is(err, router.ErrNotEndpoint):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, router.ErrInvalidRoute):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.logger.Error("compose handling failed", zap.String("msgId", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "handled", "id": id.String()})
	}
}

type wrapAndBridgeRequest struct {
	Caller      string `json:"caller"`
	SourceAsset string `json:"sourceAsset"`
	Amount      string `json:"amount"`
	DstChain    uint32 `json:"dstChain"`
	Recipient   string `json:"recipient"`
	Options     string `json:"options,omitempty"`
	FeeBudget   string `json:"feeBudget"`
}

func (s *apiServer) handleWrapAndBridge(w http.ResponseWriter, r *http.Request) {
	var req wrapAndBridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	caller, err := types.StringToAccount(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := types.StringToAccount(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	feeBudget, err := parseAmount(req.FeeBudget)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var options []byte
	if req.Options != "" {
		if options, err = hexutil.Decode(req.Options); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	shares, err := s.router.WrapAndBridge(caller, ethCommon.HexToAddress(req.SourceAsset), amount,
		types.ChainID(req.DstChain), recipient, options, feeBudget)
	switch {
	case errors.Is(err, router.ErrInvalidAmount), errors.Is(err, router.ErrInvalidRecipient):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, router.ErrInvalidRoute):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, router.ErrFeeInsufficient):
		writeError(w, http.StatusPaymentRequired, err)
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
	}
}

func (s *apiServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	amount, err := parseAmount(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := types.StringToAccount(q.Get("recipient"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dstChain, err := parseAmount(q.Get("dstChain"))
	if err != nil || !dstChain.IsUint64() {
		writeError(w, http.StatusBadRequest, errors.New("dstChain must be a chain identifier"))
		return
	}

	fee, err := s.router.QuoteBridgeFee(ethCommon.HexToAddress(q.Get("sourceAsset")), amount,
		types.ChainID(dstChain.Uint64()), recipient, nil)
	switch {
	case errors.Is(err, router.ErrInvalidRoute):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"fee": fee.String()})
	}
}

type registerRouteRequest struct {
	Caller           string `json:"caller"`
	SourceAsset      string `json:"sourceAsset"`
	Converter        string `json:"converter"`
	TransportAdapter string `json:"transportAdapter"`
}

func (s *apiServer) handleRegisterRoute(w http.ResponseWriter, r *http.Request) {
	var req registerRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	caller, err := types.StringToAccount(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	conv, ok := s.collaborators.converter(ethCommon.HexToAddress(req.Converter))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown converter"))
		return
	}
	adapter, ok := s.collaborators.adapter(ethCommon.HexToAddress(req.TransportAdapter))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown transport adapter"))
		return
	}

	err = s.router.RegisterRoute(caller, ethCommon.HexToAddress(req.SourceAsset), conv, adapter)
	switch {
	case errors.Is(err, router.ErrNotAdmin):
		writeError(w, http.StatusForbidden, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
	}
}

type devnetMintRequest struct {
	// Token is a 20-byte token address, or "native" for fee currency.
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// handleDevnetMint funds an account from thin air. Only routed in the dev
// environment.
func (s *apiServer) handleDevnetMint(w http.ResponseWriter, r *http.Request) {
	var req devnetMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := types.StringToAccount(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("amount must be positive"))
		return
	}

	if req.Token == "native" {
		s.collaborators.bank.MintNative(account, amount)
	} else {
		s.collaborators.bank.Mint(ethCommon.HexToAddress(req.Token), account, amount)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}
