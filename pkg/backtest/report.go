package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

// SaveResult 写出 JSON 结果
func SaveResult(path string, result *Result) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// LoadResult 读取 JSON 结果
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return &result, nil
}

// WriteSignalsCSV 导出信号流：pair,index,timestamp,zscore,signal,code,state
func WriteSignalsCSV(w io.Writer, result *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"pair", "index", "timestamp", "zscore", "signal", "code", "state"}); err != nil {
		return err
	}
	for _, p := range result.Pairs {
		for _, s := range p.Signals {
			z := ""
			if s.ZScore != nil {
				z = strconv.FormatFloat(*s.ZScore, 'f', 6, 64)
			}
			record := []string{
				p.Pair.ID(),
				strconv.Itoa(s.Index),
				s.Timestamp.Format(time.RFC3339),
				z,
				s.Signal.String(),
				strconv.Itoa(s.Code),
				s.State.String(),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMarkdown 生成 markdown 报告
func WriteMarkdown(w io.Writer, result *Result) {
	fmt.Fprintf(w, "# 配对回测报告\n\n")
	fmt.Fprintf(w, "**区间**: %s 至 %s（%d 根 bar）\n", result.StartTime.Format("2006-01-02 15:04"),
		result.EndTime.Format("2006-01-02 15:04"), result.Bars)
	fmt.Fprintf(w, "**初始资金**: %s\n", result.InitialCash.StringFixed(2))
	fmt.Fprintf(w, "**最终权益**: %s\n\n", result.FinalEquity.StringFixed(2))
	fmt.Fprintf(w, "---\n\n")

	fmt.Fprintf(w, "## 绩效摘要\n\n")
	fmt.Fprintf(w, "| 指标 | 数值 |\n")
	fmt.Fprintf(w, "|------|------|\n")
	fmt.Fprintf(w, "| **总收益率** | %.2f%% |\n", result.TotalReturn()*100)
	fmt.Fprintf(w, "| **实现盈亏** | %s |\n", result.RealizedPnL.StringFixed(2))
	fmt.Fprintf(w, "| **总手续费** | %s |\n", result.TotalCommission.StringFixed(2))
	fmt.Fprintf(w, "| **最大回撤** | %.2f%% |\n", result.MaxDrawdown*100)
	fmt.Fprintf(w, "| **成交笔数** | %d |\n\n", len(result.Trades))

	fmt.Fprintf(w, "## 配对\n\n")
	fmt.Fprintf(w, "| 配对 | 调仓次数 | sell | buy | clear | hold | 最终状态 |\n")
	fmt.Fprintf(w, "|------|----------|------|-----|-------|------|----------|\n")
	for _, p := range result.Pairs {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %d | %s |\n",
			p.Pair.ID(), p.Transitions,
			p.SignalCount[strategy.SignalSell], p.SignalCount[strategy.SignalBuy],
			p.SignalCount[strategy.SignalClear], p.SignalCount[strategy.SignalHold],
			p.FinalState)
	}

	if len(result.OpenPositions) > 0 {
		fmt.Fprintf(w, "\n## 未平持仓\n\n")
		for inst, qty := range result.OpenPositions {
			fmt.Fprintf(w, "- %s: %s\n", inst, qty.String())
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\n## 错误\n\n")
		for _, e := range result.Errors {
			fmt.Fprintf(w, "- %s\n", e)
		}
	}
}

// PrintSummary 输出简要结果
func PrintSummary(w io.Writer, result *Result) {
	fmt.Fprintln(w, "========================================")
	fmt.Fprintln(w, "Backtest summary")
	fmt.Fprintln(w, "========================================")
	fmt.Fprintf(w, "Bars:            %d\n", result.Bars)
	fmt.Fprintf(w, "Pairs:           %d\n", len(result.Pairs))
	fmt.Fprintf(w, "Trades:          %d\n", len(result.Trades))
	fmt.Fprintf(w, "Initial cash:    %s\n", result.InitialCash.StringFixed(2))
	fmt.Fprintf(w, "Final equity:    %s\n", result.FinalEquity.StringFixed(2))
	fmt.Fprintf(w, "Total return:    %.2f%%\n", result.TotalReturn()*100)
	fmt.Fprintf(w, "Realized PnL:    %s\n", result.RealizedPnL.StringFixed(2))
	fmt.Fprintf(w, "Commission:      %s\n", result.TotalCommission.StringFixed(2))
	fmt.Fprintf(w, "Max drawdown:    %.2f%%\n", result.MaxDrawdown*100)
	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "Errors:          %d\n", len(result.Errors))
	}
	fmt.Fprintln(w, "========================================")
}
