package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newIndexCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "index <note-id>...",
		Short: "Embed notes for retrieval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := o.client()
			for _, id := range args {
				raw, err := c.do(cmd.Context(), http.MethodPost, "/api/rag/index-note", nil, map[string]string{"noteId": id})
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				var res struct {
					AlreadyIndexed bool `json:"alreadyIndexed"`
					ChunkCount     int  `json:"chunkCount"`
				}
				if err := json.Unmarshal(raw, &res); err != nil {
					return err
				}
				state := "indexed"
				if res.AlreadyIndexed {
					state = "already indexed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d chunks\n", id, state, res.ChunkCount)
			}
			return nil
		},
	}
}

func newAskCommand(o *options) *cobra.Command {
	var notes []string
	var k int
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from your notes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodPost, "/api/rag/ask", nil, map[string]any{
				"question": strings.Join(args, " "),
				"noteIds":  notes,
				"userId":   o.user,
				"topK":     k,
			})
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var res struct {
				Answer  string `json:"answer"`
				Sources []struct {
					NoteTitle    string  `json:"noteTitle"`
					Subject      string  `json:"subject"`
					RelevantText string  `json:"relevantText"`
					Similarity   float64 `json:"similarity"`
				} `json:"sources"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, res.Answer)
			if len(res.Sources) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(res.Sources))
			for _, s := range res.Sources {
				rows = append(rows, []string{s.NoteTitle, s.Subject, fmt.Sprintf("%.3f", s.Similarity), clip(s.RelevantText, 50)})
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, renderTable([]string{"Note", "Subject", "Similarity", "Excerpt"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&notes, "note", nil, "search only these note ids")
	cmd.Flags().IntVar(&k, "k", 3, "number of passages to use")
	return cmd
}

func newChatCommand(o *options) *cobra.Command {
	var system string
	var noStream bool
	cmd := &cobra.Command{
		Use:   "chat <question>",
		Short: "Ask the tutor a free-form question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"question": strings.Join(args, " ")}
			if system != "" {
				body["system"] = system
			}
			w := cmd.OutOrStdout()
			if noStream {
				raw, err := o.client().do(cmd.Context(), http.MethodPost, "/api/chat/ask", nil, body)
				if err != nil {
					return err
				}
				return printAnswer(cmd, o, raw)
			}
			err := o.client().stream(cmd.Context(), "/api/chat/ask/stream", body, func(tok string) {
				fmt.Fprint(w, tok)
			})
			fmt.Fprintln(w)
			return err
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "override the system prompt")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole answer")
	return cmd
}

func newTutorCommand(o *options) *cobra.Command {
	var subject, difficulty string
	cmd := &cobra.Command{
		Use:   "tutor <question>",
		Short: "Get a structured explanation from the tutor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodPost, "/api/chat/tutor", nil, map[string]string{
				"question":   strings.Join(args, " "),
				"subject":    subject,
				"difficulty": difficulty,
			})
			if err != nil {
				return err
			}
			return printAnswer(cmd, o, raw)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject to scope the explanation")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "difficulty level")
	return cmd
}

func printAnswer(cmd *cobra.Command, o *options, raw json.RawMessage) error {
	if !o.human(cmd) {
		return printRaw(cmd.OutOrStdout(), raw)
	}
	var a struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), a.Answer)
	return nil
}

func newQuestionsCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "questions", Short: "Generate and browse practice questions"}

	var count int
	var qtype, difficulty, topic string
	gen := &cobra.Command{
		Use:   "generate [note-id]",
		Short: "Generate questions from a note, or from --topic",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := o.client()
			if topic != "" {
				raw, err := c.do(cmd.Context(), http.MethodPost, "/api/chat/generate-questions", nil, map[string]any{
					"topic": topic, "count": count, "questionType": qtype,
				})
				if err != nil {
					return err
				}
				return printRaw(cmd.OutOrStdout(), raw)
			}
			if len(args) == 0 {
				return fmt.Errorf("a note id or --topic is required")
			}
			raw, err := c.do(cmd.Context(), http.MethodPost, "/api/questions/generate", nil, map[string]any{
				"noteId": args[0], "userId": o.user, "count": count, "questionType": qtype, "difficulty": difficulty,
			})
			if err != nil {
				return err
			}
			return printQuestions(cmd, o, raw)
		},
	}
	gen.Flags().IntVar(&count, "count", 5, "number of questions (1-20)")
	gen.Flags().StringVar(&qtype, "type", "객관식", "question type: 객관식 or 주관식")
	gen.Flags().StringVar(&difficulty, "difficulty", "", "difficulty")
	gen.Flags().StringVar(&topic, "topic", "", "generate from a free-form topic instead of a note")

	var noteID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored question sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setIf(q, "userId", o.user)
			setIf(q, "noteId", noteID)
			raw, err := o.client().do(cmd.Context(), http.MethodGet, "/api/questions", q, nil)
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var out struct {
				Sets []struct {
					ID        string    `json:"questionSetId"`
					Title     string    `json:"title"`
					Type      string    `json:"questionType"`
					CreatedAt time.Time `json:"createdAt"`
					Metadata  struct {
						TotalQuestions int `json:"totalQuestions"`
					} `json:"metadata"`
				} `json:"questionSets"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return err
			}
			rows := make([][]string, 0, len(out.Sets))
			for _, s := range out.Sets {
				rows = append(rows, []string{s.ID, clip(s.Title, 40), s.Type, strconv.Itoa(s.Metadata.TotalQuestions), ago(s.CreatedAt)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Title", "Type", "Questions", "Created"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
	list.Flags().StringVar(&noteID, "note", "", "only sets generated from this note")

	get := &cobra.Command{
		Use:   "get <set-id>",
		Short: "Show a question set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodGet, "/api/questions/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return printQuestions(cmd, o, raw)
		},
	}
	cmd.AddCommand(gen, list, get)
	return cmd
}

func printQuestions(cmd *cobra.Command, o *options, raw json.RawMessage) error {
	if !o.human(cmd) {
		return printRaw(cmd.OutOrStdout(), raw)
	}
	var set struct {
		Title     string `json:"title"`
		NoteTitle string `json:"noteTitle"`
		Warning   string `json:"warning"`
		Raw       string `json:"rawResponse"`
		Questions []struct {
			Question    string   `json:"question"`
			Options     []string `json:"options"`
			Answer      string   `json:"answer"`
			Explanation string   `json:"explanation"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if set.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n\n%s\n", set.Warning, set.Raw)
		return nil
	}
	title := set.Title
	if title == "" {
		title = set.NoteTitle
	}
	fmt.Fprintln(w, title)
	for i, q := range set.Questions {
		fmt.Fprintf(w, "\n%d. %s\n", i+1, q.Question)
		for j, opt := range q.Options {
			fmt.Fprintf(w, "   %d) %s\n", j+1, opt)
		}
		fmt.Fprintf(w, "   정답: %s\n", q.Answer)
		if q.Explanation != "" {
			fmt.Fprintf(w, "   해설: %s\n", q.Explanation)
		}
	}
	return nil
}

type priorityRow struct {
	Note struct {
		ID      string `json:"noteId"`
		Title   string `json:"title"`
		Subject string `json:"subject"`
	} `json:"note"`
	Priority struct {
		Label     string `json:"label"`
		DaysLabel string `json:"daysLabel"`
	} `json:"priority"`
}

func newReviewsCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "reviews", Short: "Spaced-repetition reviews"}
	userQuery := func() url.Values {
		q := url.Values{}
		setIf(q, "userId", o.user)
		return q
	}

	due := &cobra.Command{
		Use:   "due",
		Short: "Notes due for review today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodGet, "/api/reviews/due", userQuery(), nil)
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var out struct {
				Notes []noteRow `json:"notes"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return err
			}
			rows := make([][]string, 0, len(out.Notes))
			for _, n := range out.Notes {
				rows = append(rows, []string{n.ID, clip(n.Title, 30), n.Subject, strconv.Itoa(n.Review.Stage), ago(n.Review.NextReview)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Title", "Subject", "Stage", "Due"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}

	record := &cobra.Command{
		Use:   "record <note-id> <score>",
		Short: "Record a review with a 0-100 score",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("score must be an integer: %w", err)
			}
			raw, err := o.client().do(cmd.Context(), http.MethodPost, "/api/reviews/"+url.PathEscape(args[0]), nil, map[string]int{"score": score})
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var n noteRow
			if err := json.Unmarshal(raw, &n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: stage %d, next review %s\n", n.Title, n.Review.Stage, n.Review.NextReview.Local().Format("2006-01-02"))
			return nil
		},
	}

	priority := &cobra.Command{
		Use:   "priority",
		Short: "Notes ordered by review priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodGet, "/api/reviews/priority", userQuery(), nil)
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var out []priorityRow
			if err := json.Unmarshal(raw, &out); err != nil {
				return err
			}
			rows := make([][]string, 0, len(out))
			for _, p := range out {
				rows = append(rows, []string{p.Priority.Label, p.Priority.DaysLabel, clip(p.Note.Title, 30), p.Note.Subject, p.Note.ID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Priority", "Last", "Title", "Subject", "ID"}, rows, nil))
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Review statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodGet, "/api/reviews/stats", userQuery(), nil)
			if err != nil {
				return err
			}
			return printStats(cmd, o, raw)
		},
	}
	cmd.AddCommand(due, record, priority, stats)
	return cmd
}

func newStatsCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Note and vector counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := o.client()
			q := url.Values{}
			setIf(q, "userId", o.user)
			notes, err := c.do(cmd.Context(), http.MethodGet, "/api/stats", q, nil)
			if err != nil {
				return err
			}
			vectors, err := c.do(cmd.Context(), http.MethodGet, "/api/rag/stats", nil, nil)
			if err != nil {
				return err
			}
			if err := printStats(cmd, o, notes); err != nil {
				return err
			}
			return printStats(cmd, o, vectors)
		},
	}
}

// printStats renders a flat JSON object of counters as a two-column table.
func printStats(cmd *cobra.Command, o *options, raw json.RawMessage) error {
	if !o.human(cmd) {
		return printRaw(cmd.OutOrStdout(), raw)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(m[k])})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}
