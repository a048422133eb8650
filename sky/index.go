// Package sky buckets sky positions into coarse angular cells and answers
// conservative neighbor-cell queries.
//
// The index partitions the sphere into iso-latitude bands of equal height,
// each split into a number of right-ascension columns proportional to the
// band circumference, so cells are roughly equal-area. It plays the role of
// a geometric collaborator for the correlation estimator: cell assignment
// bounds the neighbor search, and the neighbor query is superset-safe
// (false positives allowed, false negatives forbidden).
package sky

import (
	"errors"
	"math"
	"sort"
)

// Errors returned by the sky package.
var (
	ErrInvalidResolution = errors.New("sky: resolution must be positive")
	ErrInvalidCell       = errors.New("sky: cell id out of range")
)

// CellID identifies one angular cell of an Index. IDs are dense in
// [0, Index.NumCells()) and ordered by declination band, then right
// ascension column.
type CellID int

type band struct {
	decLo  float64 // lower declination edge
	decHi  float64 // upper declination edge
	offset int     // first cell id in this band
	nCols  int     // number of RA columns
}

// Index is an immutable angular cell grid. A higher resolution gives
// smaller cells: the sphere is divided into 4*resolution declination bands.
type Index struct {
	resolution int
	bands      []band
	nCells     int
}

// NewIndex builds an angular cell grid with the given resolution.
func NewIndex(resolution int) (*Index, error) {
	if resolution < 1 {
		return nil, ErrInvalidResolution
	}

	nBands := 4 * resolution
	bandHeight := math.Pi / float64(nBands)

	bands := make([]band, nBands)
	offset := 0

	for i := range bands {
		decLo := -math.Pi/2 + float64(i)*bandHeight
		decHi := decLo + bandHeight
		decMid := 0.5 * (decLo + decHi)

		// Column count tracks the band circumference so cells stay
		// roughly equal-area; polar bands collapse to a single cell.
		nCols := int(math.Round(2 * math.Pi * math.Cos(decMid) / bandHeight))
		if nCols < 1 {
			nCols = 1
		}

		bands[i] = band{decLo: decLo, decHi: decHi, offset: offset, nCols: nCols}
		offset += nCols
	}

	return &Index{resolution: resolution, bands: bands, nCells: offset}, nil
}

// Resolution returns the resolution the index was built with.
func (ix *Index) Resolution() int {
	return ix.resolution
}

// NumCells returns the total number of cells.
func (ix *Index) NumCells() int {
	return ix.nCells
}

// normalizeRA maps any right ascension to [0, 2*pi).
func normalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 2*math.Pi)
	if ra < 0 {
		ra += 2 * math.Pi
	}

	return ra
}

// CellOf returns the cell containing the position (ra, dec), both in
// radians. Declinations outside [-pi/2, pi/2] are clamped.
func (ix *Index) CellOf(ra, dec float64) CellID {
	nBands := len(ix.bands)
	bandHeight := math.Pi / float64(nBands)

	bi := int((dec + math.Pi/2) / bandHeight)
	if bi < 0 {
		bi = 0
	}

	if bi >= nBands {
		bi = nBands - 1
	}

	b := ix.bands[bi]

	ci := int(normalizeRA(ra) / (2 * math.Pi) * float64(b.nCols))
	if ci >= b.nCols {
		ci = b.nCols - 1
	}

	return CellID(b.offset + ci)
}

// locate returns the band index and column of a cell.
func (ix *Index) locate(c CellID) (int, int, error) {
	if c < 0 || int(c) >= ix.nCells {
		return 0, 0, ErrInvalidCell
	}

	bi := sort.Search(len(ix.bands), func(i int) bool {
		return ix.bands[i].offset > int(c)
	}) - 1

	return bi, int(c) - ix.bands[bi].offset, nil
}

// Center returns the (ra, dec) of the cell center in radians.
func (ix *Index) Center(c CellID) (ra, dec float64, err error) {
	bi, ci, err := ix.locate(c)
	if err != nil {
		return 0, 0, err
	}

	b := ix.bands[bi]
	dec = 0.5 * (b.decLo + b.decHi)
	ra = (float64(ci) + 0.5) * 2 * math.Pi / float64(b.nCols)

	return ra, dec, nil
}

// Neighbors returns every cell that could contain a position within
// maxAngle (radians) of any position in cell c, including c itself.
//
// The result is a conservative superset: it may list cells entirely outside
// the angular reach, but never misses one inside it. IDs are returned in
// ascending order without duplicates.
func (ix *Index) Neighbors(c CellID, maxAngle float64) ([]CellID, error) {
	bi, ci, err := ix.locate(c)
	if err != nil {
		return nil, err
	}

	if maxAngle < 0 {
		maxAngle = 0
	}

	home := ix.bands[bi]

	// Any position within maxAngle of the cell differs in declination by at
	// most maxAngle from the cell's band.
	decLo := home.decLo - maxAngle
	decHi := home.decHi + maxAngle

	// RA half-width of the search window, from the bounding box of a
	// spherical cap: a cap of radius a centered at declination d spans
	// asin(sin a / cos d) in right ascension, provided the cap stays clear
	// of the pole. cMin is the smallest cos(dec) inside the home band.
	cMin := math.Min(math.Cos(home.decLo), math.Cos(home.decHi))
	fullCircle := false

	maxAbsDec := math.Max(math.Abs(home.decLo), math.Abs(home.decHi))
	if maxAbsDec+maxAngle >= math.Pi/2 || cMin <= math.Sin(maxAngle) {
		fullCircle = true
	}

	var raHalfWidth float64
	if !fullCircle {
		raHalfWidth = math.Asin(math.Sin(maxAngle) / cMin)
	}

	raLo := float64(ci) * 2 * math.Pi / float64(home.nCols)
	raHi := raLo + 2*math.Pi/float64(home.nCols)

	var out []CellID

	for _, b := range ix.bands {
		if b.decHi < decLo || b.decLo > decHi {
			continue
		}

		if fullCircle || b.nCols <= 2 {
			for col := 0; col < b.nCols; col++ {
				out = append(out, CellID(b.offset+col))
			}

			continue
		}

		colWidth := 2 * math.Pi / float64(b.nCols)

		lo := int(math.Floor((raLo - raHalfWidth) / colWidth))
		hi := int(math.Floor((raHi + raHalfWidth) / colWidth))

		if hi-lo+1 >= b.nCols {
			for col := 0; col < b.nCols; col++ {
				out = append(out, CellID(b.offset+col))
			}

			continue
		}

		for k := lo; k <= hi; k++ {
			col := ((k % b.nCols) + b.nCols) % b.nCols // RA wraparound
			out = append(out, CellID(b.offset+col))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	// Dedup after wraparound.
	dst := out[:0]
	for i, id := range out {
		if i == 0 || id != dst[len(dst)-1] {
			dst = append(dst, id)
		}
	}

	return dst, nil
}

// AutoResolution picks the finest resolution, starting from maxResolution
// and halving, at which the mean number of objects per populated cell
// reaches targetPerCell. It never returns less than 1. This mirrors the
// usual survey practice of sizing cells to a few hundred sightlines.
func AutoResolution(ra, dec []float64, targetPerCell, maxResolution int) (int, error) {
	if maxResolution < 1 {
		return 0, ErrInvalidResolution
	}

	if len(ra) == 0 || targetPerCell < 1 {
		return 1, nil
	}

	res := maxResolution
	for res > 1 {
		ix, err := NewIndex(res)
		if err != nil {
			return 0, err
		}

		populated := make(map[CellID]struct{}, len(ra))
		for i := range ra {
			populated[ix.CellOf(ra[i], dec[i])] = struct{}{}
		}

		if len(ra)/len(populated) >= targetPerCell {
			break
		}

		res /= 2
	}

	return res, nil
}
