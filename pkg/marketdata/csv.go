// Package marketdata loads aligned close price series and streams bars
package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/quantlink-pairs/pkg/screener"
	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

// ErrNoData is returned when no aligned rows remain after loading
var ErrNoData = errors.New("no data loaded")

// TimeColumn 宽表的时间列名
const TimeColumn = "datetime"

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102150405",
	"20060102",
}

// ParseTime 按已知格式解析时间，17 位纯数字按 yyyyMMddHHmmss + 毫秒处理
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == 17 && isDigits(s) {
		t, err := time.Parse("20060102150405", s[:14])
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized time %q", s)
		}
		ms, _ := strconv.Atoi(s[14:])
		return t.Add(time.Duration(ms) * time.Millisecond), nil
	}
	for _, layout := range timeLayouts {
		if len(layout) != len(s) && layout != time.RFC3339 {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type row struct {
	ts     time.Time
	prices []float64
}

// Load 路径为目录时按单品种文件读取，否则按宽表读取
func Load(path string, logger zerolog.Logger) (screener.Universe, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadCloseDirectory(path, logger)
	}
	return LoadWideCSV(path, logger)
}

// LoadWideCSV 读取宽表 CSV：datetime,<品种1>,<品种2>,...
func LoadWideCSV(path string, logger zerolog.Logger) (screener.Universe, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	u, err := ReadWideCSV(file, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return u, nil
}

// ReadWideCSV 解析宽表
// 任一品种缺值的行整行丢弃（内连接），重复时间戳保留第一条，结果按时间升序
func ReadWideCSV(r io.Reader, logger zerolog.Logger) (screener.Universe, error) {
	logger = logger.With().Str("component", "data_reader").Logger()

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("invalid CSV format: expected a time column and at least one instrument, got %d columns", len(header))
	}
	if !strings.EqualFold(strings.TrimSpace(header[0]), TimeColumn) {
		return nil, fmt.Errorf("invalid CSV format: first column %q, expected %q", header[0], TimeColumn)
	}

	instruments := make([]string, len(header)-1)
	seen := make(map[string]bool, len(instruments))
	for i, h := range header[1:] {
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, &screener.AlignmentError{Instrument: fmt.Sprintf("column %d", i+1), Reason: "missing instrument name"}
		}
		if seen[name] {
			return nil, &screener.AlignmentError{Instrument: name, Reason: "duplicate instrument"}
		}
		seen[name] = true
		instruments[i] = name
	}

	rows := make([]row, 0, 1024)
	dropped := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		ts, err := ParseTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		prices, ok, err := parsePrices(record[1:])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row{ts: ts, prices: prices})
	}

	rows = normalize(rows)
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	u := make(screener.Universe, len(instruments))
	for j, name := range instruments {
		s := screener.InstrumentSeries{
			Instrument: name,
			Timestamps: make([]time.Time, len(rows)),
			Prices:     make([]float64, len(rows)),
		}
		for i, r := range rows {
			s.Timestamps[i] = r.ts
			s.Prices[i] = r.prices[j]
		}
		u[j] = s
	}

	logger.Info().
		Int("instruments", len(instruments)).
		Int("rows", len(rows)).
		Int("dropped", dropped).
		Time("from", rows[0].ts).
		Time("to", rows[len(rows)-1].ts).
		Msg("loaded wide CSV")
	return u, nil
}

// parsePrices 空值或 NaN 返回 ok=false
func parsePrices(fields []string) ([]float64, bool, error) {
	prices := make([]float64, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || strings.EqualFold(f, "nan") {
			return nil, false, nil
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false, fmt.Errorf("invalid price %q: %w", f, err)
		}
		prices[i] = v
	}
	return prices, true, nil
}

// normalize 按时间稳定排序并去除重复时间戳（保留第一条）
func normalize(rows []row) []row {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ts.Before(rows[j].ts)
	})
	out := rows[:0]
	for i, r := range rows {
		if i > 0 && r.ts.Equal(out[len(out)-1].ts) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// LoadCloseDirectory 读取目录下每个品种一个文件的 K 线 CSV（需含 time 与 close 列）
// 品种名取文件名第一个下划线之前的部分，按时间戳内连接对齐
func LoadCloseDirectory(dir string, logger zerolog.Logger) (screener.Universe, error) {
	logger = logger.With().Str("component", "data_reader").Str("dir", dir).Logger()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type series struct {
		name   string
		prices map[time.Time]float64
	}
	var all []series
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		name := strings.SplitN(e.Name(), "_", 2)[0]
		name = strings.TrimSuffix(name, filepath.Ext(name))

		prices, err := loadCloseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name()).Msg("skipping file")
			continue
		}
		all = append(all, series{name: name, prices: prices})
		logger.Debug().Str("instrument", name).Int("rows", len(prices)).Msg("loaded")
	}
	if len(all) == 0 {
		return nil, ErrNoData
	}

	var common []time.Time
	for ts := range all[0].prices {
		ok := true
		for _, s := range all[1:] {
			if _, found := s.prices[ts]; !found {
				ok = false
				break
			}
		}
		if ok {
			common = append(common, ts)
		}
	}
	if len(common) == 0 {
		return nil, ErrNoData
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Before(common[j]) })

	u := make(screener.Universe, 0, len(all))
	for _, s := range all {
		is := screener.InstrumentSeries{
			Instrument: s.name,
			Timestamps: common,
			Prices:     make([]float64, len(common)),
		}
		for i, ts := range common {
			is.Prices[i] = s.prices[ts]
		}
		u = append(u, is)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	logger.Info().Int("instruments", len(u)).Int("rows", len(common)).Msg("loaded close directory")
	return u, nil
}

// loadCloseFile 重复时间戳保留第一条
func loadCloseFile(path string) (map[time.Time]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	timeCol, closeCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "time":
			timeCol = i
		case TimeColumn:
			if timeCol < 0 {
				timeCol = i
			}
		case "close":
			closeCol = i
		}
	}
	if timeCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("invalid CSV format: need time and close columns, got %v", header)
	}

	prices := make(map[time.Time]float64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		ts, err := ParseTime(record[timeCol])
		if err != nil {
			continue
		}
		if _, dup := prices[ts]; dup {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[closeCol]), 64)
		if err != nil {
			continue
		}
		prices[ts] = v
	}
	return prices, nil
}

// Bars 将对齐的序列转换为逐时间点的 bar
func Bars(u screener.Universe) []strategy.Bar {
	n := u.Length()
	bars := make([]strategy.Bar, n)
	for i := 0; i < n; i++ {
		prices := make(map[string]float64, len(u))
		for _, s := range u {
			if i < len(s.Prices) {
				prices[s.Instrument] = s.Prices[i]
			}
		}
		var ts time.Time
		if len(u) > 0 && i < len(u[0].Timestamps) {
			ts = u[0].Timestamps[i]
		}
		bars[i] = strategy.Bar{Timestamp: ts, Prices: prices}
	}
	return bars
}

// WriteWideCSV 写出宽表：datetime,<instrument>...，可被 ReadWideCSV 读回
func WriteWideCSV(w io.Writer, u screener.Universe) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if len(u) == 0 {
		return ErrNoData
	}
	if u[0].Timestamps == nil {
		return &screener.AlignmentError{Instrument: u[0].Instrument, Reason: "series without timestamps"}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{TimeColumn}, u.Instruments()...)); err != nil {
		return err
	}
	record := make([]string, len(u)+1)
	for i := 0; i < u.Length(); i++ {
		record[0] = u[0].Timestamps[i].Format("2006-01-02 15:04:05")
		for j, s := range u {
			record[j+1] = strconv.FormatFloat(s.Prices[i], 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
