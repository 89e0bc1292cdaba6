package trader

import (
	"fmt"
	"time"

	"github.com/yourusername/quantlink-pairs/pkg/config"
)

// SessionManager 交易时段判断，以 bar 时间戳为准
type SessionManager struct {
	cfg      config.SessionConfig
	location *time.Location
	start    clock
	end      clock
	always   bool
}

type clock struct {
	hour, minute, second int
}

func (c clock) seconds() int {
	return c.hour*3600 + c.minute*60 + c.second
}

// NewSessionManager 创建时段管理器，时区为空时使用 UTC
func NewSessionManager(cfg config.SessionConfig) (*SessionManager, error) {
	location := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid session timezone %q: %w", cfg.Timezone, err)
		}
		location = loc
	}

	sm := &SessionManager{cfg: cfg, location: location}

	// 未配置起止时间则全天交易
	if cfg.StartTime == "" || cfg.EndTime == "" {
		sm.always = true
		return sm, nil
	}

	var err error
	if sm.start, err = parseClock(cfg.StartTime); err != nil {
		return nil, err
	}
	if sm.end, err = parseClock(cfg.EndTime); err != nil {
		return nil, err
	}
	return sm, nil
}

// IsInSession 判断时间点是否在交易时段内，起点含、终点不含
func (sm *SessionManager) IsInSession(t time.Time) bool {
	if sm.always {
		return true
	}

	local := t.In(sm.location)
	now := clock{local.Hour(), local.Minute(), local.Second()}.seconds()
	start, end := sm.start.seconds(), sm.end.seconds()

	// 跨夜时段（如 21:00 - 02:30）
	if end < start {
		return now >= start || now < end
	}
	return now >= start && now < end
}

// NextSessionStart 返回 t 之后（含）最近的时段开始时间
func (sm *SessionManager) NextSessionStart(t time.Time) (time.Time, error) {
	if sm.always {
		return time.Time{}, fmt.Errorf("no start time configured")
	}
	local := t.In(sm.location)
	start := sm.at(local, sm.start)
	if local.After(start) {
		start = sm.at(local.AddDate(0, 0, 1), sm.start)
	}
	return start, nil
}

// SessionInfo 返回时段描述，供状态接口使用
func (sm *SessionManager) SessionInfo(t time.Time) map[string]interface{} {
	info := map[string]interface{}{
		"in_session": sm.IsInSession(t),
		"timezone":   sm.location.String(),
	}
	if !sm.always {
		info["start_time"] = sm.cfg.StartTime
		info["end_time"] = sm.cfg.EndTime
		if !sm.IsInSession(t) {
			if next, err := sm.NextSessionStart(t); err == nil {
				info["time_until_start"] = next.Sub(t).String()
			}
		}
	}
	return info
}

func (sm *SessionManager) at(date time.Time, c clock) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.hour, c.minute, c.second, 0, sm.location)
}

// parseClock 解析 HH:MM:SS 或 HH:MM
func parseClock(s string) (clock, error) {
	var c clock
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &c.hour, &c.minute, &c.second); err != nil {
		c = clock{}
		if _, err := fmt.Sscanf(s, "%d:%d", &c.hour, &c.minute); err != nil {
			return clock{}, fmt.Errorf("invalid time format: %s (expected HH:MM:SS or HH:MM)", s)
		}
	}
	if c.hour < 0 || c.hour > 23 || c.minute < 0 || c.minute > 59 || c.second < 0 || c.second > 59 {
		return clock{}, fmt.Errorf("time out of range: %s", s)
	}
	return c, nil
}
