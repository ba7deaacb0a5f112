// Package reporting renders finished pipeline runs as spreadsheets and
// charts for the artifact export.
package reporting

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/turtacn/VigorCast/internal/application/pipeline"
	"github.com/turtacn/VigorCast/internal/domain/composite"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// ============================================================================
// Constants
// ============================================================================

const (
	ArtifactWorkbook = "projections.xlsx"
	ContentTypeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	SheetParameters = "Parameters"
	SheetLaw        = "SensitivityLaw"
	SheetWeights    = "PollutantWeights"
	SheetAnnual     = "CompositeIndex"
	SheetComparison = "Comparison"
	SheetNational   = "National"

	defaultColumnWidth = 18
	// excelize rejects sheet names longer than this.
	maxSheetName = 31
)

// ProjectionSheet names a policy's projection sheet.
func ProjectionSheet(policy string) string {
	name := "Projection_" + policy
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

// NationalSheet names a policy's national projection sheet.
func NationalSheet(policy string) string {
	name := "National_" + policy
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

// ============================================================================
// Workbook renderer
// ============================================================================

// WorkbookRenderer writes one sheet per table of a run: calibrated
// parameters, the law, composite weights when present, every policy's
// projection and the comparison.
type WorkbookRenderer struct {
	logger logging.Logger
}

// NewWorkbookRenderer returns a WorkbookRenderer. A nil logger discards output.
func NewWorkbookRenderer(logger logging.Logger) *WorkbookRenderer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &WorkbookRenderer{logger: logger.Named("workbook")}
}

// Render implements pipeline.Renderer.
func (w *WorkbookRenderer) Render(res *pipeline.Result) ([]pipeline.Attachment, error) {
	data, err := w.Build(res)
	if err != nil {
		return nil, err
	}
	return []pipeline.Attachment{{Name: ArtifactWorkbook, ContentType: ContentTypeXLSX, Data: data}}, nil
}

// Build returns the xlsx bytes for res.
func (w *WorkbookRenderer) Build(res *pipeline.Result) ([]byte, error) {
	sheets := []pipeline.NamedFrame{
		{Name: SheetParameters, Frame: res.Parameters},
		{Name: SheetLaw, Frame: res.Law.Frame()},
	}
	if res.Weights != nil {
		sheets = append(sheets,
			pipeline.NamedFrame{Name: SheetWeights, Frame: res.Weights.Frame()},
			pipeline.NamedFrame{Name: SheetAnnual, Frame: composite.AnnualFrame(res.Annual)})
	}
	for _, p := range res.Projections {
		sheets = append(sheets, pipeline.NamedFrame{Name: ProjectionSheet(string(p.Policy)), Frame: p.Frame()})
	}
	if res.Comparison != nil {
		sheets = append(sheets, pipeline.NamedFrame{Name: SheetComparison, Frame: res.Comparison})
	}
	if n := res.National; n != nil {
		sheets = append(sheets, pipeline.NamedFrame{Name: SheetNational, Frame: n.Parameters})
		for _, p := range n.Projections {
			sheets = append(sheets, pipeline.NamedFrame{Name: NationalSheet(string(p.Policy)), Frame: p.Frame()})
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactWriteFailed, "workbook style")
	}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeArtifactWriteFailed, "rename sheet")
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeArtifactWriteFailed, "new sheet "+s.Name)
		}
		if err := writeSheet(f, s.Name, s.Frame, header); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeArtifactWriteFailed, "sheet "+s.Name)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactWriteFailed, "serialize workbook")
	}
	w.logger.Debug("workbook built", logging.RunID(res.RunID), logging.Int("sheets", len(sheets)))
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, fr *table.Frame, headerStyle int) error {
	cols := fr.Columns()
	for j, c := range cols {
		cell, err := excelize.CoordinatesToCellName(j+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, c); err != nil {
			return err
		}
	}
	for i := 0; i < fr.Len(); i++ {
		for j, v := range fr.Row(i) {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	last, err := excelize.ColumnNumberToName(len(cols))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", last, defaultColumnWidth); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", fmt.Sprintf("%s1", last), headerStyle); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}
