package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"hanjang/internal/indexer"
)

type noteRow struct {
	ID        string    `json:"noteId"`
	Title     string    `json:"title"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	IsIndexed bool      `json:"isIndexed"`
	CreatedAt time.Time `json:"createdAt"`
	Metadata  struct {
		OCRConfidence float64 `json:"ocrConfidence"`
		FileSize      int64   `json:"fileSize"`
	} `json:"metadata"`
	Review struct {
		Stage      int       `json:"stage"`
		Count      int       `json:"reviewCount"`
		NextReview time.Time `json:"nextReview"`
	} `json:"review"`
}

func newNotesCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "notes", Short: "Manage study notes"}
	cmd.AddCommand(newNotesListCommand(o), newNotesGetCommand(o), newNotesUploadCommand(o),
		newNotesDeleteCommand(o), newNotesImportCommand(o), newNotesAnalyzeCommand(o))
	return cmd
}

func newNotesListCommand(o *options) *cobra.Command {
	var subject string
	var page, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setIf(q, "userId", o.user)
			setIf(q, "subject", subject)
			q.Set("page", strconv.Itoa(page))
			q.Set("limit", strconv.Itoa(limit))
			raw, err := o.client().do(cmd.Context(), http.MethodGet, "/api/notes", q, nil)
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var out struct {
				Notes      []noteRow `json:"notes"`
				Pagination struct {
					Total      int `json:"total"`
					Page       int `json:"page"`
					TotalPages int `json:"totalPages"`
				} `json:"pagination"`
			}
			if err := json.Unmarshal(raw, &out); err != nil {
				return err
			}
			rows := make([][]string, 0, len(out.Notes))
			for _, n := range out.Notes {
				rows = append(rows, []string{n.ID, clip(n.Title, 30), n.Subject, yesNo(n.IsIndexed),
					strconv.Itoa(n.Review.Count), ago(n.CreatedAt)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Subject", "Indexed", "Reviews", "Created"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
			fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d notes\n", out.Pagination.Page, out.Pagination.TotalPages, out.Pagination.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "only notes of this subject")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 10, "notes per page (max 100)")
	return cmd
}

func newNotesGetCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <note-id>",
		Short: "Show one note with its extracted text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodGet, "/api/notes/"+url.PathEscape(args[0]), nil, nil)
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
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s  [%s]\n", n.Title, n.Subject)
			fmt.Fprintf(w, "id %s, created %s, OCR %s, %s\n", n.ID, ago(n.CreatedAt), percent(n.Metadata.OCRConfidence), bytesLabel(n.Metadata.FileSize))
			fmt.Fprintf(w, "review stage %d, %d reviews, next %s\n\n", n.Review.Stage, n.Review.Count, ago(n.Review.NextReview))
			fmt.Fprintln(w, n.Content)
			return nil
		},
	}
}

type uploadFlags struct {
	title, subject, tags string
}

func (f *uploadFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "note title (default: file name)")
	cmd.Flags().StringVar(&f.subject, "subject", "", "subject")
	cmd.Flags().StringVar(&f.tags, "tags", "", "comma separated tags")
}

func (o *options) uploadFile(cmd *cobra.Command, path, title, subject, tags string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = indexer.TitleFromPath(filepath.Base(path))
	}
	return o.client().upload(cmd.Context(), "/api/notes/upload", "image", filepath.Base(path), data, map[string]string{
		"title":   title,
		"subject": subject,
		"tags":    tags,
		"userId":  o.user,
	})
}

func newNotesUploadCommand(o *options) *cobra.Command {
	var f uploadFlags
	cmd := &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload a note image; the server extracts its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.uploadFile(cmd, args[0], f.title, f.subject, f.tags)
			if err != nil {
				return err
			}
			if !o.human(cmd) {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			var res struct {
				NoteID        string  `json:"noteId"`
				Title         string  `json:"title"`
				TextLength    int     `json:"textLength"`
				OCRConfidence float64 `json:"ocrConfidence"`
				Indexed       bool    `json:"isIndexed"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %q: %d characters, OCR %s, indexed %s\n",
				res.NoteID, res.Title, res.TextLength, percent(res.OCRConfidence), yesNo(res.Indexed))
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newNotesDeleteCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <note-id>",
		Short: "Delete a note, its vectors and its image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := o.client().do(cmd.Context(), http.MethodDelete, "/api/notes/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return printRaw(cmd.OutOrStdout(), raw)
		},
	}
}

// newNotesImportCommand uploads every image under a directory. Titles come
// from file names and subjects from the first directory level.
func newNotesImportCommand(o *options) *cobra.Command {
	var include, exclude []string
	var maxFiles int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Upload every note image found under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := indexer.Scan(args[0], indexer.Options{MaxFiles: maxFiles, Include: include, Exclude: exclude})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			var failed int
			for _, f := range files {
				title, subject := indexer.TitleFromPath(f.Path), indexer.SubjectFromPath(f.Path)
				if dryRun {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Path, title, subject, bytesLabel(f.Size))
					continue
				}
				if _, err := o.uploadFile(cmd, f.AbsPath, title, subject, ""); err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", f.Path, err)
					continue
				}
				fmt.Fprintf(w, "uploaded %s\n", f.Path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "glob patterns to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to exclude")
	cmd.Flags().IntVar(&maxFiles, "max-files", 500, "stop after this many files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be uploaded")
	return cmd
}

func setIf(q url.Values, k, v string) {
	if v != "" {
		q.Set(k, v)
	}
}
