// Package cli implements the interactive command line for a battle peer:
// commands typed on stdin and a printer for battle events.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/db"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/session"
	"github.com/pokeproto/pokeproto/internal/util"
)

// Session is the part of a peer the commands drive.
type Session interface {
	Role() session.Role
	SessionID() string
	State() string
	Snapshot() (battle.Snapshot, error)
	View() (session.ViewSnapshot, bool)
	Moves() ([]battle.Move, error)
	SubmitMove(ctx context.Context, move string) error
	Say(ctx context.Context, text string) error
	Spectators() []network.Peer
	TransportStats() network.Stats
}

// History lists recorded battles.
type History interface {
	ListBattles(ctx context.Context, limit int) ([]db.BattleRecord, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	session  Session
	history  History
	in       io.Reader
	logger   zerolog.Logger

	// outMu keeps command output and event lines from interleaving.
	outMu sync.Mutex
	out   io.Writer
}

// NewCLI creates a new CLI handler. history may be nil.
func NewCLI(eventBus *events.EventBus, s Session, history History, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		session:  s,
		history:  history,
		in:       in,
		out:      out,
		logger:   util.ComponentLogger("cli"),
	}
}

func (c *CLI) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Start reads commands until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	c.printf("\npokeproto ready as %s. Type 'help' for available commands.\n", c.session.Role())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("CLI input failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.Execute(ctx, line)
		}
	}
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if err := c.execute(ctx, strings.ToLower(cmd), rest); err != nil {
		c.printf("Error: %v\n", err)
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd, rest string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus()
	case "moves", "m":
		return c.printMoves()
	case "attack", "a":
		if rest == "" {
			return errors.New("usage: attack <move>")
		}
		return c.session.SubmitMove(ctx, rest)
	case "say":
		return c.session.Say(ctx, rest)
	case "spectators":
		c.printSpectators()
	case "history":
		return c.printHistory(ctx, rest)
	case "stats":
		c.printStats()
	case "quit", "exit", "q":
		c.printf("Shutting down...\n")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		c.printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	c.printf(`
  status              Show battle state and HP
  moves               List your moves
  attack <move>       Use a move on your turn
  say <text>          Send a chat message
  spectators          List connected spectators
  history [n]         Show the last n recorded battles
  stats               Show transport counters
  quit                Leave the battle and exit
  help                Show this help message

`)
}

// table renders rows with the shared table style.
func (c *CLI) table(header []string, rows [][]string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.AppendBulk(rows)
	tw.Render()
}

func hpBar(hp, max int) string {
	const width = 20
	if max <= 0 {
		return ""
	}
	filled := hp * width / max
	if hp > 0 && filled == 0 {
		filled = 1
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func combatantRow(side string, v battle.CombatantView) []string {
	types := make([]string, len(v.Types))
	for i, t := range v.Types {
		types[i] = string(t)
	}
	return []string{
		side,
		v.Name,
		strings.Join(types, "/"),
		fmt.Sprintf("%d/%d", v.HP, v.MaxHP),
		hpBar(v.HP, v.MaxHP),
		fmt.Sprintf("%d/%d", v.Boosts.SpecialAttackUses, v.Boosts.SpecialDefenseUses),
	}
}

// printStatus displays the battle in a formatted table.
func (c *CLI) printStatus() error {
	if view, ok := c.session.View(); ok {
		c.printf("\n  Session: %s  Turns: %d\n", view.SessionID, view.Turns)
		rows := make([][]string, 0, len(view.Combatants))
		for i, v := range view.Combatants {
			rows = append(rows, combatantRow(strconv.Itoa(i+1), v))
		}
		c.table([]string{"#", "Name", "Types", "HP", "", "Boosts (SpA/SpD)"}, rows)
		switch {
		case view.Disconnected:
			c.printf("  Lost contact with the host.\n\n")
		case view.Over:
			c.printf("  Winner: %s\n\n", view.Winner)
		case view.LastMove != "":
			c.printf("  Last: %s used %s\n\n", view.LastAttacker, view.LastMove)
		}
		return nil
	}

	snap, err := c.session.Snapshot()
	if errors.Is(err, session.ErrNoBattle) {
		c.printf("\n  State: %s\n\n", c.session.State())
		return nil
	}
	if err != nil {
		return err
	}

	c.printf("\n  Session: %s  State: %s  Turn: %d\n", snap.BattleID, snap.State, snap.Turn)
	c.table([]string{"Side", "Name", "Types", "HP", "", "Boosts (SpA/SpD)"}, [][]string{
		combatantRow("you", snap.Mine),
		combatantRow("opponent", snap.Opponent),
	})

	switch {
	case snap.Winner != "":
		c.printf("  Winner: %s\n\n", snap.Winner)
	case snap.EndReason != "":
		c.printf("  Battle ended: %s\n\n", snap.EndReason)
	case snap.MyTurn && !snap.AwaitingConfirm:
		c.printf("  Your move.\n\n")
	default:
		c.printf("  Waiting for opponent.\n\n")
	}
	return nil
}

// printMoves lists the local combatant's moves.
func (c *CLI) printMoves() error {
	moves, err := c.session.Moves()
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(moves))
	for _, m := range moves {
		rows = append(rows, []string{m.Name, string(m.Type), m.Category.String(), strconv.Itoa(m.Power)})
	}
	c.table([]string{"Move", "Type", "Category", "Power"}, rows)
	return nil
}

// printSpectators lists registered spectators.
func (c *CLI) printSpectators() {
	spectators := c.session.Spectators()
	if len(spectators) == 0 {
		c.printf("No spectators.\n")
		return
	}
	rows := make([][]string, 0, len(spectators))
	for _, p := range spectators {
		rows = append(rows, []string{p.Address, p.JoinedAt.Format(time.TimeOnly), p.LastSeen.Format(time.TimeOnly)})
	}
	c.table([]string{"Address", "Joined", "Last seen"}, rows)
}

// printHistory shows recorded battles, newest first.
func (c *CLI) printHistory(ctx context.Context, arg string) error {
	if c.history == nil {
		return errors.New("battle history is disabled")
	}
	limit := 10
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", arg)
		}
		limit = n
	}

	battles, err := c.history.ListBattles(ctx, limit)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(battles))
	for _, b := range battles {
		result := b.Reason
		if b.Winner != "" {
			result = b.Winner + " (" + b.Reason + ")"
		}
		if b.EndedAt == nil {
			result = "unfinished"
		}
		rows = append(rows, []string{
			b.StartedAt.Format(time.DateTime),
			b.Role,
			b.Mine + " vs " + b.Opponent,
			strconv.Itoa(b.Turns),
			result,
		})
	}
	c.table([]string{"Started", "Role", "Battle", "Turns", "Result"}, rows)
	return nil
}

// printStats shows the reliable transport counters.
func (c *CLI) printStats() {
	s := c.session.TransportStats()
	c.table([]string{"Counter", "Value"}, [][]string{
		{"outstanding", strconv.Itoa(s.Outstanding)},
		{"sent", strconv.FormatUint(s.Sent, 10)},
		{"retransmitted", strconv.FormatUint(s.Retransmitted, 10)},
		{"acked", strconv.FormatUint(s.Acked, 10)},
		{"failed", strconv.FormatUint(s.Failed, 10)},
		{"duplicates", strconv.FormatUint(s.Duplicates, 10)},
		{"delivered", strconv.FormatUint(s.Delivered, 10)},
		{"unframed", strconv.FormatUint(s.Unframed, 10)},
	})
}
