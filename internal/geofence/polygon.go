package geofence

import "infantguard/internal/models"

// PointInPolygon 射线法（even-odd）点在多边形内判定
// 边界上的点算"内"：门口附近的位置抖动不应造成报警翻动
func PointInPolygon(x, y float64, polygon []models.Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	// 边界点优先判定
	for i := 0; i < n; i++ {
		if onSegment(x, y, polygon[i], polygon[(i+1)%n]) {
			return true
		}
	}

	inside := false
	p1 := polygon[0]
	for i := 1; i <= n; i++ {
		p2 := polygon[i%n]
		if y > min(p1.Y, p2.Y) && y <= max(p1.Y, p2.Y) && x <= max(p1.X, p2.X) {
			var xinters float64
			if p1.Y != p2.Y {
				xinters = (y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y) + p1.X
			}
			if p1.X == p2.X || x <= xinters {
				inside = !inside
			}
		}
		p1 = p2
	}
	return inside
}

// onSegment 判断点是否落在线段上（共线且在包围盒内）
func onSegment(x, y float64, a, b models.Point) bool {
	cross := (b.X-a.X)*(y-a.Y) - (b.Y-a.Y)*(x-a.X)
	if cross != 0 {
		return false
	}
	return x >= min(a.X, b.X) && x <= max(a.X, b.X) &&
		y >= min(a.Y, b.Y) && y <= max(a.Y, b.Y)
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
