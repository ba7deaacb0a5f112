package reporting

import (
	"bytes"
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/turtacn/VigorCast/internal/application/pipeline"
	"github.com/turtacn/VigorCast/internal/domain/projection"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

const ContentTypePNG = "image/png"

// ChartArtifact names a policy's chart.
func ChartArtifact(policy string) string { return fmt.Sprintf("projection_%s.png", policy) }

// ChartRenderer draws one line chart per policy, one line per region.
type ChartRenderer struct {
	width, height vg.Length
	logger        logging.Logger
}

// NewChartRenderer returns a ChartRenderer producing 10x6 inch PNGs.
func NewChartRenderer(logger logging.Logger) *ChartRenderer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ChartRenderer{width: 10 * vg.Inch, height: 6 * vg.Inch, logger: logger.Named("chart")}
}

// Render implements pipeline.Renderer.
func (c *ChartRenderer) Render(res *pipeline.Result) ([]pipeline.Attachment, error) {
	out := make([]pipeline.Attachment, 0, len(res.Projections))
	for _, p := range res.Projections {
		data, err := c.Draw(p)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline.Attachment{Name: ChartArtifact(string(p.Policy)), ContentType: ContentTypePNG, Data: data})
	}
	return out, nil
}

// Draw renders p as a PNG.
func (c *ChartRenderer) Draw(p *projection.Projection) ([]byte, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Projected vegetation index (%s)", p.Policy)
	pl.X.Label.Text = "Year"
	pl.Y.Label.Text = "Vegetation index"
	pl.Add(plotter.NewGrid())

	series := map[string]plotter.XYs{}
	for _, r := range p.Records {
		series[r.Region] = append(series[r.Region], plotter.XY{X: float64(r.Year), Y: r.Predicted})
	}
	regions := make([]string, 0, len(series))
	for region := range series {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	for i, region := range regions {
		line, err := plotter.NewLine(series[region])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeArtifactWriteFailed, "chart line "+region)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		pl.Add(line)
		pl.Legend.Add(region, line)
	}
	pl.Legend.Top = true

	w, err := pl.WriterTo(c.width, c.height, "png")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactWriteFailed, "chart encoder")
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactWriteFailed, "chart render")
	}
	c.logger.Debug("chart drawn", logging.String("policy", string(p.Policy)), logging.Int("regions", len(regions)))
	return buf.Bytes(), nil
}
