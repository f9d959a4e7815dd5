package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"goeverbridge/pipeline"

	"github.com/go-chi/chi"
)

var actions = map[string]func(p *pipeline.Pipeline, ctx context.Context) error{
	"check": func(p *pipeline.Pipeline, _ context.Context) error {
		p.CheckSource(true)
		return nil
	},
	"prepare":   (*pipeline.Pipeline).Prepare,
	"release":   (*pipeline.Pipeline).Release,
	"broadcast": (*pipeline.Pipeline).Broadcast,
	"process":   (*pipeline.Pipeline).Process,
	"cancel":    (*pipeline.Pipeline).Cancel,
}

var withdrawals = map[string]func(p *pipeline.Pipeline, ctx context.Context, amount string) error{
	"tokens":  (*pipeline.Pipeline).WithdrawTokens,
	"wrapped": (*pipeline.Pipeline).WithdrawWrapped,
	"native":  (*pipeline.Pipeline).WithdrawNative,
}

// Action runs one of the user actions of a transfer and answers with the
// snapshot taken right after it was submitted.
func (a *API) Action(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")
	action, ok := actions[name]
	if !ok {
		responseError(w, fmt.Errorf("%w: unknown action %q", errBadRequest, name), "action")
		return
	}
	s, err := a.session(r)
	if err != nil {
		responseError(w, err, "id")
		return
	}

	if err := action(s.Pipeline, r.Context()); err != nil {
		a.Lggr.Infow("Transfer action failed", "id", s.ID, "action", name, "err", err)
		responseError(w, err, "")
		return
	}
	responseJSON(w, transferResponse(s), http.StatusOK)
}

func (a *API) Withdraw(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	withdraw, ok := withdrawals[asset]
	if !ok {
		responseError(w, fmt.Errorf("%w: unknown asset %q", errBadRequest, asset), "asset")
		return
	}
	s, err := a.session(r)
	if err != nil {
		responseError(w, err, "id")
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "Cannot unmarshal input JSON",
		}, http.StatusBadRequest)
		return
	}
	if err := withdraw(s.Pipeline, r.Context(), req.Amount); err != nil {
		a.Lggr.Infow("Withdrawal failed", "id", s.ID, "asset", asset, "err", err)
		responseError(w, err, "amount")
		return
	}
	responseJSON(w, transferResponse(s), http.StatusOK)
}

// Events streams a snapshot on every change of the transfer as server-sent events.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	s, err := a.session(r)
	if err != nil {
		responseError(w, err, "id")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		responseJSON(w, &APIResponse{Status: "error", Message: "streaming unsupported"}, http.StatusInternalServerError)
		return
	}

	// latest snapshot only, a slow client skips intermediate ones
	updates := make(chan pipeline.Snapshot, 1)
	var mu sync.Mutex
	push := func(snap pipeline.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-updates:
		default:
		}
		updates <- snap
	}
	unsub := s.Pipeline.Subscribe(push)
	defer unsub()
	push(s.Pipeline.Snapshot())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			raw, err := json.Marshal(snap)
			if err != nil {
				a.Lggr.Errorw("Error encoding snapshot", "id", s.ID, "err", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
