package nn

// Metric accumulates a score over batches until reset.
type Metric interface {
	reset()
	update(pred, target *tensor)
	result() float64
	Name() string
}

type accuracy struct {
	correct, total int
}

// Accuracy counts single-unit predictions on the right side of 0.5.
func Accuracy() Metric { return &accuracy{} }

func (a *accuracy) reset() { a.correct, a.total = 0, 0 }

func (a *accuracy) update(pred, target *tensor) {
	for i, p := range pred.data {
		if (p >= 0.5) == (target.data[i] >= 0.5) {
			a.correct++
		}
		a.total++
	}
}

func (a *accuracy) result() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

func (a *accuracy) Name() string { return "accuracy" }

type confusion struct {
	threshold  float32
	tp, fp, fn int
}

func (c *confusion) reset() { c.tp, c.fp, c.fn = 0, 0, 0 }

func (c *confusion) update(pred, target *tensor) {
	for i, p := range pred.data {
		predicted := p >= c.threshold
		actual := target.data[i] >= 0.5
		switch {
		case predicted && actual:
			c.tp++
		case predicted:
			c.fp++
		case actual:
			c.fn++
		}
	}
}

type precision struct{ confusion }

// Precision is tp / (tp + fp) at the given decision threshold.
func Precision(threshold float32) Metric {
	return &precision{confusion{threshold: threshold}}
}

func (p *precision) result() float64 {
	if p.tp+p.fp == 0 {
		return 0
	}
	return float64(p.tp) / float64(p.tp+p.fp)
}

func (p *precision) Name() string { return "precision" }

type recall struct{ confusion }

// Recall is tp / (tp + fn) at the given decision threshold.
func Recall(threshold float32) Metric {
	return &recall{confusion{threshold: threshold}}
}

func (r *recall) result() float64 {
	if r.tp+r.fn == 0 {
		return 0
	}
	return float64(r.tp) / float64(r.tp+r.fn)
}

func (r *recall) Name() string { return "recall" }
