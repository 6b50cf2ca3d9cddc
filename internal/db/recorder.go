package db

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/util"
)

// Recorder writes battle events into a HistoryStore. Bus handlers run
// concurrently, so every write tolerates arriving before the battle row.
type Recorder struct {
	store  *HistoryStore
	logger zerolog.Logger
}

const recorderName = "history-recorder"

var recordedEvents = []events.EventType{
	events.EventBattleStarted,
	events.EventDamageDealt,
	events.EventGameOver,
}

// NewRecorder creates a recorder for store.
func NewRecorder(store *HistoryStore) *Recorder {
	return &Recorder{
		store:  store,
		logger: util.ComponentLogger("history"),
	}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *events.EventBus) {
	bus.SubscribeAll(recordedEvents, recorderName, r.Handle)
}

// Detach removes the recorder from bus.
func (r *Recorder) Detach(bus *events.EventBus) {
	bus.UnsubscribeAll(recordedEvents, recorderName)
}

// Handle records one event.
func (r *Recorder) Handle(ctx context.Context, e events.Event) error {
	var err error

	switch p := e.Payload.(type) {
	case events.BattleStartedPayload:
		err = r.store.RecordBattle(ctx, BattleRecord{
			ID:        p.BattleID,
			Role:      p.Role,
			Mine:      p.Mine,
			Opponent:  p.Opponent,
			StartedAt: time.Now(),
		})
	case events.DamageDealtPayload:
		err = r.store.RecordTurn(ctx, TurnRow{
			BattleID:      p.BattleID,
			Turn:          p.Turn,
			Attacker:      p.Attacker,
			Defender:      p.Defender,
			Move:          p.Move,
			Damage:        p.Damage,
			RemainingHP:   p.RemainingHP,
			Effectiveness: p.Effectiveness,
			Status:        p.Status,
		})
	case events.GameOverPayload:
		err = r.store.FinishBattle(ctx, p.BattleID, p.Winner, p.Loser, p.Reason.String(), p.Turns, time.Now())
	default:
		return nil
	}

	if err != nil {
		r.logger.Error().Err(err).Str("event", string(e.Type)).Msg("failed to record battle event")
	}
	return err
}
