package listview

// pageCount returns max(1, ceil(total/size)).
func pageCount(total, size int) int {
	if size <= 0 {
		size = 1
	}
	if total <= 0 {
		return 1
	}
	return (total + size - 1) / size
}

func clampPage(n, count int) int {
	if n < 1 {
		return 1
	}
	if n > count {
		return count
	}
	return n
}

// pageBounds returns the half-open slice bounds of page p.
func pageBounds(p, size, total int) (int, int) {
	start := (p - 1) * size
	if start >= total {
		return total, total
	}
	return start, min(start+size, total)
}

// pageWindow returns the page numbers shown around the current page.
func pageWindow(current, count int) []int {
	from := max(1, current-2)
	to := min(count, current+2)
	window := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		window = append(window, p)
	}
	return window
}
