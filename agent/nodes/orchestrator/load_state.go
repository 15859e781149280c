package orchestratornode

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	statex "github.com/tanpawarit/booking-concierge/agent/state"
)

var errNilState = errors.New("graph state is nil")

// LoadOrCreateState attaches the conversation ledger. A store outage does not
// fail the turn: providers still dedupe by idempotency key, so the turn runs
// on an empty ledger.
func LoadOrCreateState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, stageErr("load_state", errNilState)
	}

	st, err := store.Load(ctx, in.ConversationID)
	switch {
	case err == nil:
		in.Ledger = st
	case errors.Is(err, statex.ErrStateNotFound):
		in.Ledger = statex.NewConversationState(in.ConversationID, in.Now)
	default:
		log.Warn().
			Str("conversation_id", in.ConversationID).
			Err(err).
			Msg("conversation ledger unavailable, continuing without it")
		in.Ledger = statex.NewConversationState(in.ConversationID, in.Now)
	}
	return in, nil
}

// SaveState persists the ledger when the turn recorded provider calls. It runs
// detached from the caller so recorded side effects are not lost when the
// request is cancelled mid-turn.
func SaveState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, stageErr("save_state", errNilState)
	}
	if !in.LedgerDirty || in.Ledger == nil {
		return in, nil
	}

	in.Ledger.Touch(in.Now)
	if err := in.Ledger.Validate(); err != nil {
		log.Error().Str("conversation_id", in.ConversationID).Err(err).Msg("conversation ledger is invalid, not saving")
		return in, nil
	}
	if err := store.Save(context.WithoutCancel(ctx), in.Ledger); err != nil {
		log.Error().Str("conversation_id", in.ConversationID).Err(err).Msg("save conversation ledger")
	}
	return in, nil
}
