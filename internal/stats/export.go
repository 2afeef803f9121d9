package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ncruces/go-strftime"

	"lagsearch/internal/model"
	"lagsearch/internal/physics"
)

const (
	exportFile           = "export.json"
	exportCandidatesFile = "candidates.csv"

	// ExportDirLayout names export directories; the run id is appended.
	ExportDirLayout  = "%Y%m%d-%H%M%S"
	exportTimeLayout = "%Y-%m-%dT%H:%M:%SZ"
)

// CandidateRecord is one exported candidate: its coefficients, fitness,
// derived constants and the generation that produced it.
type CandidateRecord struct {
	Rank         int         `json:"rank"`
	Generation   int         `json:"generation"`
	Coefficients []float64   `json:"coefficients"`
	Fitness      model.Score `json:"fitness"`
	CModel       float64     `json:"c_model"`
	AlphaModel   float64     `json:"alpha_model"`
	GModel       float64     `json:"g_model"`
	DeltaC       float64     `json:"delta_c"`
	DeltaAlpha   float64     `json:"delta_alpha"`
	DeltaG       float64     `json:"delta_g"`
	DigitsC      int         `json:"digits_c"`
	DigitsAlpha  int         `json:"digits_alpha"`
	DigitsG      int         `json:"digits_g"`
	Phi0         *float64    `json:"phi0,omitempty"`
	Elegance     *float64    `json:"elegance,omitempty"`
	UltraCoupled bool        `json:"ultra_coupled"`
	Rejection    string      `json:"rejection,omitempty"`
}

type Export struct {
	Timestamp       string             `json:"timestamp"`
	RunID           string             `json:"run_id,omitempty"`
	Status          string             `json:"status,omitempty"`
	UltraModeActive bool               `json:"ultra_mode_active"`
	Targets         physics.Targets    `json:"targets"`
	Operators       []physics.Operator `json:"operators"`
	Candidates      []CandidateRecord  `json:"candidates"`
}

func NewCandidateRecord(rank int, c model.Candidate) CandidateRecord {
	return CandidateRecord{
		Rank:         rank,
		Generation:   c.Generation,
		Coefficients: c.Chromosome.Slice(),
		Fitness:      c.Fitness,
		CModel:       c.CModel,
		AlphaModel:   c.AlphaModel,
		GModel:       c.GModel,
		DeltaC:       c.DeltaC,
		DeltaAlpha:   c.DeltaAlpha,
		DeltaG:       c.DeltaG,
		DigitsC:      c.DigitsC(),
		DigitsAlpha:  c.DigitsAlpha(),
		DigitsG:      c.DigitsG(),
		Phi0:         c.Phi0,
		Elegance:     c.Elegance,
		UltraCoupled: c.Chromosome.UltraCoupled(),
		Rejection:    string(c.Rejection),
	}
}

// NewExport builds the export for ranked candidates; ranks start at 1.
func NewExport(now time.Time, runID string, targets physics.Targets, ranked []model.Candidate) Export {
	out := Export{
		Timestamp:  strftime.Format(exportTimeLayout, now.UTC()),
		RunID:      runID,
		Targets:    targets,
		Operators:  physics.OperatorCatalog(),
		Candidates: make([]CandidateRecord, 0, len(ranked)),
	}
	for i, c := range ranked {
		out.Candidates = append(out.Candidates, NewCandidateRecord(i+1, c))
	}
	return out
}

// ExportFromTop builds the export for persisted top candidates.
func ExportFromTop(now time.Time, runID string, targets physics.Targets, top []model.TopCandidateRecord) Export {
	ranked := make([]model.Candidate, len(top))
	for i, record := range top {
		ranked[i] = record.Candidate
	}
	out := NewExport(now, runID, targets, ranked)
	for i, record := range top {
		if record.Rank > 0 {
			out.Candidates[i].Rank = record.Rank
		}
	}
	return out
}

// WriteExport writes export.json and candidates.csv into a new directory
// under outDir named from the export time and run id.
func WriteExport(outDir string, now time.Time, export Export) (string, error) {
	name := strftime.Format(ExportDirLayout, now.UTC())
	if export.RunID != "" {
		name += "-" + export.RunID
	}
	dir := filepath.Join(outDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if export.Candidates == nil {
		export.Candidates = []CandidateRecord{}
	}
	if err := writeJSON(filepath.Join(dir, exportFile), export); err != nil {
		return "", err
	}
	if err := writeCandidatesCSV(filepath.Join(dir, exportCandidatesFile), export.Candidates); err != nil {
		return "", err
	}
	return dir, nil
}

func ReadExport(dir string) (Export, bool, error) {
	var export Export
	ok, err := readJSON(filepath.Join(dir, exportFile), &export)
	if err != nil || !ok {
		return Export{}, ok, err
	}
	return export, true, nil
}

var candidateColumns = []string{
	"rank", "generation",
	"c0", "c1", "c2", "c3", "g_em", "xi",
	"fitness", "c_model", "alpha_model", "g_model",
	"delta_c", "delta_alpha", "delta_g",
	"digits_c", "digits_alpha", "digits_g",
	"rejection",
}

func writeCandidatesCSV(path string, records []CandidateRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(candidateColumns); err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Coefficients) != model.GeneCount {
			return fmt.Errorf("candidate rank %d: expected %d coefficients, got %d", r.Rank, model.GeneCount, len(r.Coefficients))
		}
		row := make([]string, 0, len(candidateColumns))
		row = append(row, strconv.Itoa(r.Rank), strconv.Itoa(r.Generation))
		for _, v := range r.Coefficients {
			row = append(row, formatValue(v))
		}
		row = append(row,
			formatValue(r.Fitness.Float()),
			formatValue(r.CModel),
			formatValue(r.AlphaModel),
			formatValue(r.GModel),
			formatValue(r.DeltaC),
			formatValue(r.DeltaAlpha),
			formatValue(r.DeltaG),
			strconv.Itoa(r.DigitsC),
			strconv.Itoa(r.DigitsAlpha),
			strconv.Itoa(r.DigitsG),
			r.Rejection,
		)
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}
