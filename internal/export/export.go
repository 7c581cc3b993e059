package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tradelens/internal/logger"
	"tradelens/internal/position"
	"tradelens/internal/stats"
)

const timeLayout = "2006-01-02 15:04:05"

// Report 是一次复盘的导出输入。
type Report struct {
	RunID       string
	Exchange    string
	Start       time.Time
	End         time.Time
	GeneratedAt time.Time
	Policy      position.Policy
	Positions   []position.Position
	Summary     stats.Statistics
	BySymbol    map[string]stats.Statistics
	Failed      []string
}

// Options 控制输出目录、格式与时区。
type Options struct {
	Dir      string
	CSV      bool
	XLSX     bool
	YAML     bool
	Location *time.Location
}

type Exporter struct {
	opts Options
}

func New(opts Options) *Exporter {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Exporter{opts: opts}
}

// FileBase 生成 <exchange>_<start>_<end>_<ts>，不含扩展名。
func FileBase(exchange string, start, end, now time.Time) string {
	ex := strings.ToLower(strings.TrimSpace(exchange))
	if ex == "" {
		ex = "fills"
	}
	return fmt.Sprintf("%s_%s_%s_%s", ex,
		start.UTC().Format("20060102"), end.UTC().Format("20060102"), now.UTC().Format("20060102_150405"))
}

// Export 按配置写出各格式文件，返回生成的路径。
func (e *Exporter) Export(r Report) ([]string, error) {
	if !e.opts.CSV && !e.opts.XLSX && !e.opts.YAML {
		return nil, nil
	}
	if e.opts.Dir == "" {
		return nil, fmt.Errorf("export 目录不能为空")
	}
	if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
		return nil, err
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}
	base := filepath.Join(e.opts.Dir, FileBase(r.Exchange, r.Start, r.End, r.GeneratedAt))
	var paths []string
	if e.opts.CSV {
		path := base + ".csv"
		if err := writeFile(path, func(f *os.File) error { return WriteCSV(f, r.Positions, e.opts.Location) }); err != nil {
			return paths, fmt.Errorf("write csv: %w", err)
		}
		paths = append(paths, path)
	}
	if e.opts.XLSX {
		path := base + ".xlsx"
		if err := WriteXLSX(path, r, e.opts.Location); err != nil {
			return paths, fmt.Errorf("write xlsx: %w", err)
		}
		paths = append(paths, path)
	}
	if e.opts.YAML {
		path := base + ".yaml"
		if err := writeFile(path, func(f *os.File) error { return WriteSummaryYAML(f, r) }); err != nil {
			return paths, fmt.Errorf("write yaml: %w", err)
		}
		paths = append(paths, path)
	}
	logger.Infof("[export] 已导出 %d 个文件: %s", len(paths), strings.Join(paths, ", "))
	return paths, nil
}

func writeFile(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// sortedPositions 按交易对、开仓时间排序，不修改入参。
func sortedPositions(in []position.Position) []position.Position {
	out := append([]position.Position(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format(timeLayout)
}

func unixMilli(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d", t.UnixMilli())
}
