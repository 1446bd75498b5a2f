package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/AdamLaszab/zadanie-skuska/internal/api"
	"github.com/AdamLaszab/zadanie-skuska/internal/operation"
	"github.com/AdamLaszab/zadanie-skuska/internal/pipeline"
)

type runOptions struct {
	output         string
	outputName     string
	delivery       string
	pages          string
	angle          string
	duplicateCount int
	overlay        string
	overlayPage    int
	password       string
	userPassword   string
	ownerPassword  string
	quiet          bool
}

func runCmd(g *globals, ui *ui) *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run <operation> <file.pdf>...",
		Short: "Submit a batch to a running server",
		Example: `  pdfgate run merge a.pdf b.pdf -o merged.pdf
  pdfgate run rotate scan.pdf --angle 90 --pages 1-3
  pdfgate run decrypt locked.pdf -o open.pdf        # prompts for the password
  pdfgate run overlay doc.pdf --overlay stamp.pdf --delivery link`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, files := args[0], args[1:]
			if err := o.promptPasswords(cmd.InOrStdin(), op); err != nil {
				return err
			}
			fields := o.fields()
			if _, err := operation.Parse(op, fields); err != nil {
				return err
			}
			form, err := o.formFiles(op, files)
			if err != nil {
				return err
			}
			c := &batchClient{baseURL: g.serverURL, token: g.token, http: &http.Client{Timeout: 15 * time.Minute}}
			return c.submit(cmd.Context(), ui, cmd.OutOrStdout(), cmd.ErrOrStderr(), op, fields, form, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "Where to write the result (default: server's file name)")
	f.StringVar(&o.outputName, "output-name", "", "Name the server gives the result, without extension")
	f.StringVar(&o.delivery, "delivery", string(pipeline.DeliveryStream), "stream or link")
	f.StringVar(&o.pages, "pages", "", "Page selection, e.g. 1,3-5 or all")
	f.StringVar(&o.angle, "angle", "", "Rotation angle, a multiple of 90")
	f.IntVar(&o.duplicateCount, "duplicate-count", 1, "Extra copies per page for duplicate_pages")
	f.StringVar(&o.overlay, "overlay", "", "Overlay PDF for the overlay operation")
	f.IntVar(&o.overlayPage, "overlay-page", 1, "Page of the overlay PDF to stamp with")
	f.StringVar(&o.password, "password", "", "Password for decrypt (prompted when omitted)")
	f.StringVar(&o.userPassword, "user-password", "", "User password for encrypt (prompted when omitted)")
	f.StringVar(&o.ownerPassword, "owner-password", "", "Owner password for encrypt")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "No progress output")
	return cmd
}

func (o *runOptions) promptPasswords(in io.Reader, op string) error {
	var err error
	switch operation.Name(op) {
	case operation.NameDecrypt:
		if o.password == "" {
			o.password, err = promptSecret(in, "Password")
		}
	case operation.NameEncrypt:
		if o.userPassword == "" {
			o.userPassword, err = promptSecret(in, "User password")
		}
	}
	return err
}

func (o runOptions) fields() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("delivery", o.delivery)
	set("output_name", o.outputName)
	set("pages", o.pages)
	set("angle", o.angle)
	set("password", o.password)
	set("user_password", o.userPassword)
	set("owner_password", o.ownerPassword)
	if o.duplicateCount != 1 {
		v.Set("duplicate_count", strconv.Itoa(o.duplicateCount))
	}
	if o.overlayPage != 1 {
		v.Set("overlay_page_number", strconv.Itoa(o.overlayPage))
	}
	return v
}

type formFile struct {
	field string
	path  string
}

// formFiles maps positional files onto the form fields the server reads for
// op.
func (o runOptions) formFiles(op string, files []string) ([]formFile, error) {
	var out []formFile
	switch operation.Name(op) {
	case operation.NameMerge:
		for _, f := range files {
			out = append(out, formFile{"files", f})
		}
	case operation.NameOverlay:
		if o.overlay == "" || len(files) != 1 {
			return nil, errors.New("overlay needs exactly one input file and --overlay")
		}
		out = append(out, formFile{"file", files[0]}, formFile{"overlay_file", o.overlay})
	default:
		if len(files) != 1 {
			return nil, fmt.Errorf("%s takes exactly one file", op)
		}
		out = append(out, formFile{"file", files[0]})
	}
	for _, f := range out {
		if _, err := os.Stat(f.path); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type batchClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *batchClient) submit(ctx context.Context, ui *ui, stdout, stderr io.Writer, op string, fields url.Values, files []formFile, o runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	total, err := totalSize(files)
	if err != nil {
		return err
	}

	body, contentType := streamForm(fields, files)
	var reader io.Reader = body
	var bar *progressbar.ProgressBar
	if !o.quiet {
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("Uploading"),
			progressbar.OptionSetWidth(24),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		r := progressbar.NewReader(body, bar)
		reader = &r
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+"/pdf/"+url.PathEscape(op), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	var spin *spinner.Spinner
	if !o.quiet {
		spin = spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(stderr))
		spin.Suffix = " Processing " + op + "..."
	}
	resp, err := c.doWithSpinner(req, bar, spin)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeProblem(resp)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var link api.LinkResponse
		if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
			return fmt.Errorf("decode link response: %w", err)
		}
		fmt.Fprintf(stdout, "%s %s (%d bytes)\n", ui.ok("[OK]"), link.FileName, link.Size)
		fmt.Fprintf(stdout, "  download: %s%s\n", strings.TrimRight(c.baseURL, "/"), link.DownloadURL)
		fmt.Fprintf(stdout, "  expires:  %s\n", link.ExpiresAt.Local().Format(time.RFC1123))
		if link.Warnings != "" {
			fmt.Fprintf(stdout, "  %s %s\n", ui.warn("warnings:"), link.Warnings)
		}
		return nil
	}

	target := o.output
	if target == "" {
		target = attachmentName(resp.Header.Get("Content-Disposition"))
	}
	if target == "" {
		target = op + ".pdf"
	}
	n, err := saveResponse(resp, target, stderr, o.quiet)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s wrote %s (%d bytes, batch %s)\n", ui.ok("[OK]"), target, n, resp.Header.Get("X-Batch-ID"))
	return nil
}

func (c *batchClient) doWithSpinner(req *http.Request, bar *progressbar.ProgressBar, spin *spinner.Spinner) (*http.Response, error) {
	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.http.Do(req)
		done <- result{resp, err}
	}()

	if bar == nil || spin == nil {
		r := <-done
		return r.resp, r.err
	}

	// The upload bar fills while the body is sent; the spinner covers the
	// time the tool spends on it.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	spinning := false
	for {
		select {
		case r := <-done:
			if spinning {
				spin.Stop()
			} else {
				_ = bar.Finish()
			}
			return r.resp, r.err
		case <-ticker.C:
			if !spinning && bar.IsFinished() {
				spin.Start()
				spinning = true
			}
		}
	}
}

func totalSize(files []formFile) (int64, error) {
	var total int64
	for _, f := range files {
		st, err := os.Stat(f.path)
		if err != nil {
			return 0, err
		}
		total += st.Size()
	}
	return total, nil
}

// streamForm writes the multipart body through a pipe so large uploads are
// never held in memory.
func streamForm(fields url.Values, files []formFile) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			for k, vs := range fields {
				for _, v := range vs {
					if err := mw.WriteField(k, v); err != nil {
						return err
					}
				}
			}
			for _, f := range files {
				part, err := mw.CreateFormFile(f.field, filepath.Base(f.path))
				if err != nil {
					return err
				}
				src, err := os.Open(f.path)
				if err != nil {
					return err
				}
				_, err = io.Copy(part, src)
				_ = src.Close()
				if err != nil {
					return err
				}
			}
			return mw.Close()
		}()
		_ = pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

func decodeProblem(resp *http.Response) error {
	var problem api.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(raw, &problem); err != nil || problem.Code == "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	msg := fmt.Sprintf("%s (%d %s)", problem.Error, resp.StatusCode, problem.Code)
	if label, ok := problem.Details["exit_label"].(string); ok {
		msg += ", tool reported " + label
	}
	if stderr, ok := problem.Details["stderr"].(string); ok && strings.TrimSpace(stderr) != "" {
		msg += "\n" + strings.TrimSpace(stderr)
	}
	return errors.New(msg)
}

func attachmentName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return filepath.Base(params["filename"])
}

func saveResponse(resp *http.Response, target string, stderr io.Writer, quiet bool) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".pdfgate-*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	var w io.Writer = tmp
	if !quiet {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("Downloading"),
			progressbar.OptionSetWidth(24),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		w = io.MultiWriter(tmp, bar)
	}
	n, err := io.Copy(w, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", target, err)
	}
	return n, os.Rename(tmp.Name(), target)
}
