package cli

import (
	"context"

	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/protocol"
)

const printerName = "cli-printer"

var printedEvents = []events.EventType{
	events.EventBattleStarted,
	events.EventMoveAnnounced,
	events.EventDamageDealt,
	events.EventDiscrepancy,
	events.EventTurnChanged,
	events.EventGameOver,
	events.EventPeerJoined,
	events.EventSpectatorJoined,
	events.EventSpectatorLeft,
	events.EventPeerUnreachable,
	events.EventChatMessage,
	events.EventSpectatorUpdate,
}

// AttachPrinter prints battle events as they happen.
func (c *CLI) AttachPrinter() {
	c.eventBus.SubscribeAll(printedEvents, printerName, c.printEvent)
}

// DetachPrinter stops printing events.
func (c *CLI) DetachPrinter() {
	c.eventBus.UnsubscribeAll(printedEvents, printerName)
}

func (c *CLI) printEvent(ctx context.Context, e events.Event) error {
	switch p := e.Payload.(type) {
	case events.BattleStartedPayload:
		c.printf("Battle started: %s (%d HP) vs %s (%d HP).\n", p.Mine, p.MyHP, p.Opponent, p.OpponentHP)
		if p.MyTurn {
			c.printf("You move first.\n")
		}
	case events.MoveAnnouncedPayload:
		if !p.Local {
			c.printf("%s is using %s...\n", p.Attacker, p.Move)
		}
	case events.DamageDealtPayload:
		if p.Status != "" {
			c.printf("%s\n", p.Status)
		}
		c.printf("%s took %d damage, %d HP left.\n", p.Defender, p.Damage, p.RemainingHP)
	case events.DiscrepancyPayload:
		if p.Fatal {
			c.printf("Turn %d could not be agreed on.\n", p.Turn)
		} else {
			c.printf("Turn %d results disagree, resolving...\n", p.Turn)
		}
	case events.TurnChangedPayload:
		if p.MyTurn {
			c.printf("Your turn. Type 'moves' to list moves.\n")
		}
	case events.GameOverPayload:
		if p.Winner != "" {
			c.printf("Game over after %d turns: %s wins, %s fainted.\n", p.Turns, p.Winner, p.Loser)
		} else {
			c.printf("Battle ended: %s.\n", p.Reason)
		}
	case events.PeerPayload:
		switch e.Type {
		case events.EventPeerUnreachable:
			c.printf("Lost contact with %s %s after %d retries.\n", p.Role, p.Address, p.Retries)
		case events.EventSpectatorLeft:
			c.printf("Spectator %s left.\n", p.Address)
		default:
			c.printf("%s joined from %s.\n", p.Role, p.Address)
		}
	case events.ChatPayload:
		if !p.Local {
			c.printf("[%s] %s\n", p.Sender, p.Text)
		}
	case events.SpectatorUpdatePayload:
		c.printRelay(p)
	}
	return nil
}

// printRelay narrates battle messages a spectator receives from the host.
func (c *CLI) printRelay(p events.SpectatorUpdatePayload) {
	switch protocol.MessageType(p.MessageType) {
	case protocol.MsgBattleSetup:
		if boosts := p.Fields[protocol.FieldStatBoosts]; boosts != "" {
			c.printf("%s enters the battle with boosts %s.\n", p.Fields[protocol.FieldPokemonName], boosts)
			return
		}
		c.printf("%s enters the battle.\n", p.Fields[protocol.FieldPokemonName])
	case protocol.MsgCalculationReport:
		c.printf("%s The defender has %s HP left.\n",
			p.Fields[protocol.FieldStatusMessage], p.Fields[protocol.FieldDefenderHPRemaining])
	case protocol.MsgGameOver:
		c.printf("Game over: %s wins.\n", p.Fields[protocol.FieldWinner])
	}
}
