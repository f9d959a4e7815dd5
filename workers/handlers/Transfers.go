package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"goeverbridge/logger"
	"goeverbridge/sessions"
	"goeverbridge/tvmcell"
	"goeverbridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
)

// API serves transfer sessions over HTTP.
type API struct {
	Sessions *sessions.Manager
	Balances Balances
	Lggr     logger.Logger
}

func (a *API) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.Lggr.Warnw("Error reading request body", "err", err)
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "Error reading request body",
		}, http.StatusBadRequest)
		return
	}

	var id types.TransferIdentity
	if err := json.Unmarshal(body, &id); err != nil {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "Cannot unmarshal input JSON",
		}, http.StatusBadRequest)
		return
	}
	if id.Variant == "" {
		id.Variant = types.VariantDefault
	}
	if err := validateSource(id); err != nil {
		responseError(w, err, "source")
		return
	}

	s, created, err := a.Sessions.Create(id)
	if err != nil {
		a.Lggr.Warnw("Error creating transfer session", "source", id.Source, "err", err)
		responseError(w, fmt.Errorf("%w: %w", errBadRequest, err), "")
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	responseJSON(w, transferResponse(s), code)
}

func (a *API) GetTransfer(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		responseError(w, err, "id")
		return
	}
	responseJSON(w, transferResponse(s), http.StatusOK)
}

// ListTransfers lists open sessions, optionally only those of ?owner=.
func (a *API) ListTransfers(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner != "" {
		normalized, err := normalizeOwner(owner)
		if err != nil {
			responseError(w, err, "owner")
			return
		}
		owner = normalized
	}

	list := a.Sessions.List(owner)
	resp := APITransferListResponse{Status: "ok", Transfers: make([]APITransferResponse, 0, len(list))}
	for _, s := range list {
		resp.Transfers = append(resp.Transfers, *transferResponse(s))
	}
	responseJSON(w, &resp, http.StatusOK)
}

func (a *API) DeleteTransfer(w http.ResponseWriter, r *http.Request) {
	sid, err := sessionID(r)
	if err != nil {
		responseError(w, err, "id")
		return
	}
	if err := a.Sessions.Dispose(sid); err != nil {
		responseError(w, err, "id")
		return
	}
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}

func (a *API) session(r *http.Request) (*sessions.Session, error) {
	sid, err := sessionID(r)
	if err != nil {
		return nil, err
	}
	return a.Sessions.Get(sid)
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	sid, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid session id", errBadRequest)
	}
	return sid, nil
}

func transferResponse(s *sessions.Session) *APITransferResponse {
	return &APITransferResponse{
		Status:   "ok",
		ID:       s.ID.String(),
		Transfer: s.Pipeline.Snapshot(),
	}
}

// validateSource checks the source artifact has the shape its network uses.
func validateSource(id types.TransferIdentity) error {
	switch id.SourceKind {
	case types.NetworkEVM:
		b, err := hexutil.Decode(id.Source)
		if err != nil || len(b) != common.HashLength {
			return fmt.Errorf("%w: source is not an EVM transaction hash", errBadRequest)
		}
	case types.NetworkTVM:
		if _, err := tvmcell.ParseAddress(id.Source); err != nil {
			return fmt.Errorf("%w: source is not a TVM address: %w", errBadRequest, err)
		}
	case types.NetworkSolana:
		if _, err := solana.SignatureFromBase58(id.Source); err != nil {
			return fmt.Errorf("%w: source is not a Solana signature: %w", errBadRequest, err)
		}
	default:
		return fmt.Errorf("%w: unknown source network %q", errBadRequest, id.SourceKind)
	}
	return nil
}

// normalizeOwner accepts an EVM, TVM or Solana address and returns the form
// transfers store it in.
func normalizeOwner(owner string) (string, error) {
	if strings.HasPrefix(owner, "0x") {
		if !common.IsHexAddress(owner) {
			return "", fmt.Errorf("%w: invalid ethereum address", errBadRequest)
		}
		checksummed := common.HexToAddress(owner).Hex()
		if err := ethav.Validate(checksummed); err != nil {
			return "", fmt.Errorf("%w: invalid ethereum address: %w", errBadRequest, err)
		}
		return strings.ToLower(checksummed), nil
	}
	if raw, err := tvmcell.Normalize(owner); err == nil {
		return raw, nil
	}
	if _, err := solana.PublicKeyFromBase58(owner); err == nil {
		return owner, nil
	}
	return "", fmt.Errorf("%w: unrecognized address %q", errBadRequest, owner)
}
