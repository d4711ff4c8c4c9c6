// Package domain models the quality-controlled temperature dataset of a
// crowd-sourced ground sensor network.
//
// # Data Model
//
// A Dataset is a dense time×station grid of hourly air temperature in °C.
// The time axis is a strictly increasing sequence of UTC instants; gaps are
// tolerated but completeness accounting always assumes 24 expected hourly
// observations per calendar day. Missing observations are NaN. Stations are
// identified by their id and never move during a run; altitude may be NaN
// when the operator did not report it.
//
// # Flags
//
// A Mask is a boolean grid of the same shape as the temperature grid.
// True means the observation is retained ("good"), false means rejected.
// This matches the integer flag encoding used on disk:
//
//	flag_values:   0, 1
//	flag_meanings: failed_qc passed_qc
//
// Masks only ever narrow from one QC level to the next. The completeness
// re-evaluation after each check may reject additional previously-accepted
// values (a whole station-day or station-month at once) but never
// resurrects a rejected one.
//
// # QC Levels
//
// Levels form a fixed linear chain, each owning an immutable snapshot of
// (grid, mask, statistics):
//
//	T_lvl0  raw             original merged data
//	T_lvl1  seasonal        seasonal min/max thresholds (DJF/MAM/JJA/SON)
//	T_lvl2  completeness-1  daily/monthly completeness after seasonal
//	T_lvl3  buddy           neighbourhood mean/std outlier test
//	T_lvl4  completeness-2  daily/monthly completeness after buddy
//	T_lvl5  stct            spatial-temporal consistency test
//	T_lvl6  completeness-3  daily/monthly completeness after STCT
//
// The chain is an explicit enumeration with predecessor links; nothing in
// the pipeline derives behaviour from parsing level names.
package domain
