package canvas

import "math"

// Drawing primitives. All coordinates are (row, col); partial coverage from
// anti-aliasing scales the written alpha.

// Line draws an anti-aliased line between two cells (Wu's algorithm).
func (l *Layer) Line(r1, c1, r2, c2 int, color Color, alpha float64) {
	a := clamp01(alpha) * color.A

	plot := func(row, col int, cov float64) {
		l.PutBlend(row, col, color.WithAlpha(a*clamp01(cov)))
	}

	x0, y0 := float64(c1), float64(r1)
	x1, y1 := float64(c2), float64(r2)

	steep := math.Abs(y1-y0) > math.Abs(x1-x0)
	if steep {
		x0, y0 = y0, x0
		x1, y1 = y1, x1
	}
	if x0 > x1 {
		x0, x1 = x1, x0
		y0, y1 = y1, y0
	}

	dx := x1 - x0
	dy := y1 - y0
	grad := 1.0
	if dx != 0 {
		grad = dy / dx
	}

	put := func(x, y int, cov float64) {
		if steep {
			plot(x, y, cov)
		} else {
			plot(y, x, cov)
		}
	}

	// endpoints
	xend := math.Round(x0)
	yend := y0 + grad*(xend-x0)
	xgap := 1.0 - frac(x0+0.5)
	xpx1 := int(xend)
	ypx1 := int(math.Floor(yend))
	put(xpx1, ypx1, (1.0-frac(yend))*xgap)
	put(xpx1, ypx1+1, frac(yend)*xgap)
	intery := yend + grad

	xend = math.Round(x1)
	yend = y1 + grad*(xend-x1)
	xgap = frac(x1 + 0.5)
	xpx2 := int(xend)
	ypx2 := int(math.Floor(yend))
	put(xpx2, ypx2, (1.0-frac(yend))*xgap)
	put(xpx2, ypx2+1, frac(yend)*xgap)

	for x := xpx1 + 1; x < xpx2; x++ {
		put(x, int(math.Floor(intery)), 1.0-frac(intery))
		put(x, int(math.Floor(intery))+1, frac(intery))
		intery += grad
	}
}

// Circle draws a circle centered at (row, col). Outlines use the midpoint
// walk with edge coverage; fills scan-convert the interior.
func (l *Layer) Circle(row, col, radius int, color Color, fill bool, alpha float64) {
	if radius <= 0 {
		l.PutBlend(row, col, color.WithAlpha(color.A*clamp01(alpha)))
		return
	}

	if fill {
		r2 := float64(radius) * float64(radius)
		for dr := -radius; dr <= radius; dr++ {
			for dc := -radius; dc <= radius; dc++ {
				d2 := float64(dr*dr + dc*dc)
				if d2 > r2 {
					continue
				}
				// soften the outermost ring
				cov := 1.0
				if edge := float64(radius) - math.Sqrt(d2); edge < 1.0 {
					cov = edge
				}
				l.PutBlend(row+dr, col+dc, color.WithAlpha(color.A*clamp01(alpha)*clamp01(cov)))
			}
		}
		return
	}

	a := color.A * clamp01(alpha)
	x := radius
	y := 0
	for x >= y {
		// true distance from the ideal arc drives the AA weight
		d := math.Hypot(float64(x), float64(y)) - float64(radius)
		cov := clamp01(1.0 - math.Abs(d))
		for _, p := range [][2]int{
			{row + y, col + x}, {row + y, col - x},
			{row - y, col + x}, {row - y, col - x},
			{row + x, col + y}, {row + x, col - y},
			{row - x, col + y}, {row - x, col - y},
		} {
			l.PutBlend(p[0], p[1], color.WithAlpha(a*cov))
		}
		y++
		if math.Hypot(float64(x), float64(y)) > float64(radius)+0.5 {
			x--
		}
	}
}

// Ellipse draws an axis-aligned ellipse with radii (rr rows, rc cols),
// sampled parametrically with an anti-aliased edge.
func (l *Layer) Ellipse(row, col int, rr, rc float64, color Color, fill bool, alpha float64) {
	if rr <= 0 || rc <= 0 {
		l.PutBlend(row, col, color.WithAlpha(color.A*clamp01(alpha)))
		return
	}
	a := color.A * clamp01(alpha)

	if fill {
		ir, ic := int(math.Ceil(rr)), int(math.Ceil(rc))
		for dr := -ir; dr <= ir; dr++ {
			for dc := -ic; dc <= ic; dc++ {
				// normalized radial distance
				nd := math.Hypot(float64(dr)/rr, float64(dc)/rc)
				if nd > 1.0 {
					continue
				}
				cov := 1.0
				if edge := (1.0 - nd) * math.Min(rr, rc); edge < 1.0 {
					cov = edge
				}
				l.PutBlend(row+dr, col+dc, color.WithAlpha(a*clamp01(cov)))
			}
		}
		return
	}

	// enough samples that adjacent points land on neighboring cells
	steps := int(math.Ceil(2 * math.Pi * math.Max(rr, rc) * 2))
	if steps < 8 {
		steps = 8
	}
	for i := 0; i < steps; i++ {
		t := 2 * math.Pi * float64(i) / float64(steps)
		fr := float64(row) + rr*math.Sin(t)
		fc := float64(col) + rc*math.Cos(t)

		r0, c0 := int(math.Floor(fr)), int(math.Floor(fc))
		for dr := 0; dr <= 1; dr++ {
			for dc := 0; dc <= 1; dc++ {
				wr := 1.0 - math.Abs(fr-float64(r0+dr))
				wc := 1.0 - math.Abs(fc-float64(c0+dc))
				if wr <= 0 || wc <= 0 {
					continue
				}
				cell := l.Get(r0+dr, c0+dc)
				cov := a * wr * wc
				if cell.A >= cov {
					continue
				}
				l.PutBlend(r0+dr, c0+dc, color.WithAlpha(cov-cell.A))
			}
		}
	}
}

func frac(v float64) float64 { return v - math.Floor(v) }
