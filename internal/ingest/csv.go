package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/voclens/voclens/internal/voc"
)

// Stage1Header is the contractual Stage 1 CSV schema. Downstream stages read
// exactly these columns; renames are a pipeline break, not a soft failure.
var Stage1Header = []string{
	"response_id",
	"verbatim_response",
	"subject",
	"question",
	"deal_status",
	"company",
	"interviewee_name",
	"date_of_interview",
}

// validatedHeader is the Stage 2 export schema: identical except for the
// company -> company_name rename that the validated output contract requires.
var validatedHeader = []string{
	"response_id",
	"verbatim_response",
	"subject",
	"question",
	"deal_status",
	"company_name",
	"interviewee_name",
	"date_of_interview",
}

// ReadStage1CSV loads a Stage 1 CSV. Every contractual column must be present
// by name; a missing or renamed column is reported explicitly.
func ReadStage1CSV(path, clientID string) ([]voc.Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, want := range Stage1Header {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("input csv %s is missing required column %q (header contract: %v)",
				path, want, Stage1Header)
		}
	}

	var out []voc.Response
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("input csv %s line %d: %w", path, line, err)
		}
		get := func(name string) string {
			i := col[name]
			if i >= len(record) {
				return ""
			}
			return record[i]
		}
		resp := voc.Response{
			ResponseID:      get("response_id"),
			ClientID:        clientID,
			VerbatimText:    get("verbatim_response"),
			Subject:         get("subject"),
			Question:        get("question"),
			DealStatus:      voc.ParseDealStatus(get("deal_status")),
			Company:         get("company"),
			IntervieweeName: get("interviewee_name"),
			InterviewDate:   get("date_of_interview"),
		}
		if resp.ResponseID == "" {
			return nil, fmt.Errorf("input csv %s line %d: empty response_id", path, line)
		}
		out = append(out, resp)
	}

	return out, nil
}

// WriteStage1CSV writes responses in the contractual Stage 1 schema.
func WriteStage1CSV(path string, responses []voc.Response) error {
	return writeCSV(path, Stage1Header, responses)
}

// WriteValidatedCSV writes the Stage 2 validated export (company_name rename;
// row layout is otherwise identical).
func WriteValidatedCSV(path string, responses []voc.Response) error {
	return writeCSV(path, validatedHeader, responses)
}

func writeCSV(path string, header []string, responses []voc.Response) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range responses {
		row := []string{
			r.ResponseID,
			r.VerbatimText,
			r.Subject,
			r.Question,
			string(r.DealStatus),
			r.Company,
			r.IntervieweeName,
			r.InterviewDate,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", r.ResponseID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
