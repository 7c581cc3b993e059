package reviewhttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradelens/internal/candlestore"
	"tradelens/internal/pkg/symbol"
	"tradelens/internal/position"
	"tradelens/internal/review"
	"tradelens/internal/stats"
	"tradelens/internal/store"

	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) handleRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleLatestRun(c *gin.Context) {
	run, err := s.runs.LatestRun(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRun(c *gin.Context) {
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunSymbols(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.runs.GetRun(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	list, err := s.runs.ListSymbols(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": list})
}

func (s *Server) handleRunPositions(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.runs.GetRun(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	sym := querySymbol(c)
	positions, err := s.runs.ListPositions(c.Request.Context(), id, sym)
	if err != nil {
		writeError(c, err)
		return
	}
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if status == "open" || status == "closed" {
		filtered := positions[:0]
		for _, p := range positions {
			if p.IsOpen == (status == "open") {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// handleRunStats 未指定 symbol 时按已存仓位重新汇总，并附带各交易对统计。
func (s *Server) handleRunStats(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if _, err := s.runs.GetRun(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	sym := querySymbol(c)
	positions, err := s.runs.ListPositions(ctx, id, sym)
	if err != nil {
		writeError(c, err)
		return
	}
	if sym != "" {
		c.JSON(http.StatusOK, gin.H{"symbol": sym, "stats": stats.Aggregate(positions)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats.Aggregate(positions), "by_symbol": stats.BySymbol(positions)})
}

type policyBody struct {
	CostBasis  string `json:"cost_basis"`
	Fees       string `json:"fees"`
	QuoteAsset string `json:"quote_asset"`
}

func (b policyBody) empty() bool {
	return b.CostBasis == "" && b.Fees == "" && b.QuoteAsset == ""
}

func (b policyBody) policy(base position.Policy) (position.Policy, error) {
	out := base
	if b.CostBasis != "" {
		cb, err := position.ParseCostBasis(b.CostBasis)
		if err != nil {
			return position.Policy{}, err
		}
		out.CostBasis = cb
	}
	if b.Fees != "" {
		fm, err := position.ParseFeeMode(b.Fees)
		if err != nil {
			return position.Policy{}, err
		}
		out.Fees = fm
	}
	if b.QuoteAsset != "" {
		out.QuoteAsset = strings.ToUpper(strings.TrimSpace(b.QuoteAsset))
	}
	return out, nil
}

// handleRebuild 用已存成交按新口径重算，结果不落库。
func (s *Server) handleRebuild(c *gin.Context) {
	if s.reviewer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "复盘服务未启用"})
		return
	}
	var body policyBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	policy, err := body.policy(s.reviewer.DefaultPolicy())
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := s.reviewer.Rebuild(c.Request.Context(), c.Param("id"), policy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

type submitBody struct {
	Symbols    []string `json:"symbols"`
	StartTS    int64    `json:"start_ts"`
	EndTS      int64    `json:"end_ts"`
	MarkSource string   `json:"mark_source"`
	policyBody
}

func (s *Server) handleSubmit(c *gin.Context) {
	if s.reviewer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "复盘服务未启用"})
		return
	}
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.StartTS <= 0 || body.EndTS <= body.StartTS {
		badRequest(c, "start_ts/end_ts 非法")
		return
	}
	for _, sym := range body.Symbols {
		if !symbol.IsValid(sym) {
			badRequest(c, "非法交易对: "+sym)
			return
		}
	}
	req := review.Request{
		Symbols:    body.Symbols,
		Start:      time.UnixMilli(body.StartTS).UTC(),
		End:        time.UnixMilli(body.EndTS).UTC(),
		MarkSource: body.MarkSource,
	}
	if !body.policyBody.empty() {
		policy, err := body.policyBody.policy(s.reviewer.DefaultPolicy())
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		req.Policy = &policy
	}
	job, err := s.reviewer.Submit(req)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	if s.reviewer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "复盘服务未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.reviewer.Jobs()})
}

func (s *Server) handleJob(c *gin.Context) {
	if s.reviewer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "复盘服务未启用"})
		return
	}
	job, ok := s.reviewer.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "K 线缓存未启用"})
		return
	}
	sym := querySymbol(c)
	tf := c.Query("timeframe")
	if sym == "" || tf == "" {
		badRequest(c, "symbol/timeframe 必填")
		return
	}
	if _, err := candlestore.ParseTimeframe(tf); err != nil {
		badRequest(c, err.Error())
		return
	}
	start, err1 := strconv.ParseInt(c.Query("start"), 10, 64)
	end, err2 := strconv.ParseInt(c.Query("end"), 10, 64)
	if err1 != nil || err2 != nil || end <= start {
		badRequest(c, "start/end 需为毫秒时间戳且 start < end")
		return
	}
	data, err := s.candles.Candles(c.Request.Context(), sym, tf, time.UnixMilli(start), time.UnixMilli(end))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *Server) handleChart(c *gin.Context) {
	if s.charts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "图表未启用"})
		return
	}
	id := c.Param("id")
	sym := symbol.Normalize(c.Param("symbol"))
	if sym == "" {
		badRequest(c, "非法交易对")
		return
	}
	ctx := c.Request.Context()
	if _, err := s.runs.GetRun(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	positions, err := s.runs.ListPositions(ctx, id, sym)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(positions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": sym + " 没有仓位"})
		return
	}
	html, err := s.charts.Page(ctx, sym, c.Query("timeframe"), positions, stats.Aggregate(positions))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func querySymbol(c *gin.Context) string {
	raw := strings.TrimSpace(c.Query("symbol"))
	if raw == "" {
		return ""
	}
	if norm := symbol.Normalize(raw); norm != "" {
		return norm
	}
	return strings.ToUpper(raw)
}
