package capture

// ScrollThresholds 记录的滚动深度阈值（百分比）
var ScrollThresholds = []int{25, 50, 75, 100}

// ScrollMark 单调的滚动深度高水位
type ScrollMark struct {
	high int
}

// Restore 以已记录的最大深度初始化
func (m *ScrollMark) Restore(depth int) {
	if depth > m.high {
		m.high = depth
	}
}

// Cross 返回本次新跨越的最高阈值；未超过高水位时返回 false
func (m *ScrollMark) Cross(percent float64) (int, bool) {
	crossed := 0
	for _, t := range ScrollThresholds {
		if percent >= float64(t) {
			crossed = t
		}
	}
	if crossed == 0 || crossed <= m.high {
		return 0, false
	}
	m.high = crossed
	return crossed, true
}

// High 当前高水位
func (m *ScrollMark) High() int { return m.high }

// Reset 清空高水位
func (m *ScrollMark) Reset() { m.high = 0 }
