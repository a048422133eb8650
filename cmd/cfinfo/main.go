// Command cfinfo prints the binning geometry and cosmology diagnostics of a
// correlation configuration.
//
// Usage:
//
//	cfinfo [flags]
//
// Without flags it prints the standard BAO analysis settings.
//
// Examples:
//
//	cfinfo
//	cfinfo -rp-max 80 -rt-max 80 -np 20 -nt 20
//	cfinfo -om 0.27 -z "2.0,2.5,3.0"
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/corentinravoux/picca/cf"
	"github.com/corentinravoux/picca/cosmology"
	"github.com/corentinravoux/picca/sky"
)

func main() {
	def := cf.DefaultConfig()

	rpMax := flag.Float64("rp-max", def.RPMax, "maximum parallel separation in Mpc/h")
	rtMax := flag.Float64("rt-max", def.RTMax, "maximum transverse separation in Mpc/h")
	np := flag.Int("np", def.NP, "number of parallel-separation bins")
	nt := flag.Int("nt", def.NT, "number of transverse-separation bins")
	lambdaAbs := flag.Float64("lambda-abs", def.LambdaAbs, "absorption rest-frame wavelength in Angstrom")
	lambdaMin := flag.Float64("lambda-min", def.LambdaMin, "survey minimum observed wavelength in Angstrom")
	om := flag.Float64("om", def.FiducialOm, "matter density of the fiducial cosmology")
	resolution := flag.Int("resolution", def.Resolution, "angular index resolution")
	zList := flag.String("z", "2.0,2.25,2.5,3.0,3.5", "comma-separated redshifts for the distance table")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cfinfo [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Prints the binning geometry and cosmology diagnostics of a\n")
		fmt.Fprintf(os.Stderr, "correlation configuration.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cfinfo\n")
		fmt.Fprintf(os.Stderr, "  cfinfo -rp-max 80 -rt-max 80 -np 20 -nt 20\n")
		fmt.Fprintf(os.Stderr, "  cfinfo -om 0.27 -z \"2.0,2.5,3.0\"\n")
	}
	flag.Parse()

	cfg := def
	cfg.RPMax = *rpMax
	cfg.RTMax = *rtMax
	cfg.NP = *np
	cfg.NT = *nt
	cfg.LambdaAbs = *lambdaAbs
	cfg.LambdaMin = *lambdaMin
	cfg.FiducialOm = *om
	cfg.Resolution = *resolution

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	redshifts, err := parseRedshifts(*zList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cosmo, err := cosmology.New(cfg.FiducialOm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ix, err := sky.NewIndex(cfg.Resolution)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	printGeometry(cfg, cosmo, ix)
	printDistances(cosmo, redshifts)
}

func parseRedshifts(list string) ([]float64, error) {
	var zs []float64
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		z, err := strconv.ParseFloat(field, 64)
		if err != nil || z < 0 {
			return nil, fmt.Errorf("invalid redshift %q", field)
		}
		zs = append(zs, z)
	}
	if len(zs) == 0 {
		return nil, fmt.Errorf("no redshifts given")
	}
	return zs, nil
}

func printGeometry(cfg cf.Config, cosmo *cosmology.FlatLCDM, ix *sky.Index) {
	zMin := cfg.LambdaMin/cfg.LambdaAbs - 1
	angMax := cfg.MaxAngle(cosmo)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Quantity\tValue\n")
	fmt.Fprintf(tw, "--------\t-----\n")
	fmt.Fprintf(tw, "rp bins\t%d x %.2f Mpc/h (max %.1f)\n", cfg.NP, cfg.RPMax/float64(cfg.NP), cfg.RPMax)
	fmt.Fprintf(tw, "rt bins\t%d x %.2f Mpc/h (max %.1f)\n", cfg.NT, cfg.RTMax/float64(cfg.NT), cfg.RTMax)
	fmt.Fprintf(tw, "histogram size\t%d\n", cfg.NumBins())
	fmt.Fprintf(tw, "z min\t%.4f\n", zMin)
	fmt.Fprintf(tw, "max angle\t%.4f rad (%.2f deg)\n", angMax, angMax*180/math.Pi)
	fmt.Fprintf(tw, "index resolution\t%d (%d cells)\n", ix.Resolution(), ix.NumCells())
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to flush output: %v\n", err)
	}
	fmt.Println()
}

func printDistances(cosmo *cosmology.FlatLCDM, redshifts []float64) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "z\tD_C [Mpc/h]\n")
	fmt.Fprintf(tw, "-\t-----------\n")
	for _, z := range redshifts {
		fmt.Fprintf(tw, "%.3f\t%.2f\n", z, cosmo.RComoving(z))
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to flush output: %v\n", err)
	}
}
