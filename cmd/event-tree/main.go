// Command event-tree prints the event log of a bot process as a tree.
//
// Without --id it starts at the latest process.started event of the bot;
// --user narrows the tree to one user's updates and what they caused.
package main

import (
	"cmp"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"
)

// Event is one row of the events table plus its children.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	UserID    sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*Event
}

type options struct {
	maxDepth  int
	noPayload bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("[event-tree] %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("event-tree", flag.ContinueOnError)
	dbPath := fs.String("db", envOrDefault("MEDIABOT_DB_PATH", "data/bot_data.db"), "SQLite database path")
	rootID := fs.Int64("id", 0, "root the tree at this event ID")
	userID := fs.Int64("user", 0, "only show events of this user (0 = all)")
	jsonOut := fs.Bool("json", false, "output JSON")
	var opts options
	fs.IntVar(&opts.maxDepth, "L", 0, "limit display depth (0 = unlimited)")
	fs.BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", *dbPath+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("open db %s: %w", *dbPath, err)
	}

	if *rootID == 0 {
		if *rootID, err = latestBotRoot(db); err != nil {
			return err
		}
	}
	events, err := querySubtree(db, *rootID, *userID)
	if err != nil {
		return fmt.Errorf("query events under %d: %w", *rootID, err)
	}
	root := buildTree(events, *rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", *rootID)
	}

	if *jsonOut {
		return printJSON(stdout, root, opts)
	}
	printTree(stdout, root, "", true, 1, opts)
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func latestBotRoot(db *sql.DB) (int64, error) {
	var id int64
	err := db.QueryRow(
		`SELECT id FROM events WHERE event_type = 'process.started'
		 AND json_extract(payload, '$.role') = 'bot'
		 ORDER BY id DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("no bot process.started event found")
	}
	return id, err
}

// querySubtree returns the events under rootID. A non-zero userID keeps
// the root plus that user's events; process-level events are dropped.
func querySubtree(db *sql.DB, rootID, userID int64) ([]*Event, error) {
	rows, err := db.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.user_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		  AND (? = 0 OR e.id = ? OR e.user_id = ?)
		ORDER BY e.id ASC
	`, rootID, userID, rootID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.UserID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// buildTree links events to their parents and returns the node for rootID.
// Events whose parent is outside the set are left unattached.
func buildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, ev := range events {
		if !ev.ParentID.Valid || ev.ParentID.Int64 == ev.ID {
			continue
		}
		if parent := byID[ev.ParentID.Int64]; parent != nil {
			parent.Children = append(parent.Children, ev)
		}
	}
	for _, ev := range events {
		slices.SortFunc(ev.Children, func(a, b *Event) int { return cmp.Compare(a.ID, b.ID) })
	}
	return byID[rootID]
}

// printTree writes ev and its descendants with box-drawing connectors.
// Subtrees cut off by maxDepth are marked with [...].
func printTree(w io.Writer, ev *Event, prefix string, isLast bool, depth int, opts options) {
	line, indent := formatEvent(ev, opts.noPayload), prefix
	if depth > 1 {
		connector, rail := "├── ", "│   "
		if isLast {
			connector, rail = "└── ", "    "
		}
		line = prefix + connector + line
		indent = prefix + rail
	}
	fmt.Fprintln(w, line)

	if len(ev.Children) == 0 {
		return
	}
	if opts.maxDepth > 0 && depth >= opts.maxDepth {
		fmt.Fprintln(w, indent+"└── [...]")
		return
	}
	for i, child := range ev.Children {
		printTree(w, child, indent, i == len(ev.Children)-1, depth+1, opts)
	}
}

// formatEvent renders "[id] time  type  user=N  key=value ..." with
// payload keys sorted.
func formatEvent(ev *Event, noPayload bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s  %s", ev.ID, time.Unix(ev.Timestamp, 0).UTC().Format(time.DateTime), ev.EventType)
	if ev.UserID.Valid {
		fmt.Fprintf(&b, "  user=%d", ev.UserID.Int64)
	}
	payload := decodePayload(ev, noPayload)
	for _, k := range slices.Sorted(maps.Keys(payload)) {
		fmt.Fprintf(&b, "  %s=%s", k, formatValue(payload[k]))
	}
	return b.String()
}

func decodePayload(ev *Event, noPayload bool) map[string]any {
	if noPayload || !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := sonic.UnmarshalString(ev.Payload.String, &m); err != nil {
		return nil
	}
	return m
}

const maxValueLen = 80

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > maxValueLen {
			return strconv.Quote(val[:maxValueLen] + "...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

type jsonEvent struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	UserID    int64          `json:"user_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonEvent    `json:"children,omitempty"`
}

func toJSONEvent(ev *Event, depth int, opts options) jsonEvent {
	je := jsonEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		UserID:    ev.UserID.Int64,
		EventType: ev.EventType,
		Payload:   decodePayload(ev, opts.noPayload),
	}
	if opts.maxDepth == 0 || depth < opts.maxDepth {
		for _, child := range ev.Children {
			je.Children = append(je.Children, toJSONEvent(child, depth+1, opts))
		}
	}
	return je
}

func printJSON(w io.Writer, root *Event, opts options) error {
	data, err := sonic.ConfigStd.MarshalIndent(toJSONEvent(root, 1, opts), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
