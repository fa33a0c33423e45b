package ocr

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// sortPages orders pdftoppm outputs numerically (page-2 before page-10).
func sortPages(paths []string) {
	num := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		n, _ := strconv.Atoi(base[strings.LastIndexByte(base, '-')+1:])
		return n
	}
	sort.Slice(paths, func(i, j int) bool { return num(paths[i]) < num(paths[j]) })
}
