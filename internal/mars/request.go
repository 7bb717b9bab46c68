package mars

import (
	"strconv"
	"strings"

	"github.com/italolelis/tigge_retriever/internal/retriever"
)

const (
	// Dataset is the ECMWF web API dataset name for TIGGE.
	Dataset = "tigge"

	// AllVariables is every surface parameter TIGGE serves in a single request:
	// 59/134/136/146/147/151 (CAPE, surface pressure, total column water, sensible and
	// latent heat flux, mean sea level pressure), 165/166 (10m wind), 167 (2m temperature),
	// 168 (2m dewpoint), 172/176/177/179 (land-sea mask, radiation), 235 (skin temperature),
	// 228001/228039/228139/228144 (convective inhibition, soil moisture, soil temperature,
	// snow fall water equivalent) and 228228 (total precipitation).
	AllVariables = "59/134/136/146/147/151/165/166/167/168/172/176/177/179/235/228001/228039/228139/228144/228228"
	// ReducedVariables is 10m u/v wind, 2m temperature, 2m dewpoint and total precipitation.
	ReducedVariables = "165/166/167/168/228228"

	// DefaultArea is north/west/south/east of the South American domain.
	DefaultArea = "14/-82/-57/-31"

	// forecastTimes requests all four daily base times so one artifact covers one date.
	forecastTimes = "00:00:00/06:00:00/12:00:00/18:00:00"

	maxStepHours  = 240
	stepIncrement = 6
)

var steps = func() string {
	parts := make([]string, 0, maxStepHours/stepIncrement+1)
	for h := 0; h <= maxStepHours; h += stepIncrement {
		parts = append(parts, strconv.Itoa(h))
	}

	return strings.Join(parts, "/")
}()

// Request returns the MARS request retrieving the control forecast for date.
func Request(date retriever.Date, area string, reduced bool) map[string]string {
	params := AllVariables
	if reduced {
		params = ReducedVariables
	}

	if area == "" {
		area = DefaultArea
	}

	return map[string]string{
		"class":   "ti",
		"dataset": Dataset,
		"type":    "cf",
		"expver":  "prod",
		"origin":  "kwbc",
		"levtype": "sfc",
		"grid":    "0.5/0.5",
		"format":  "netcdf",
		"step":    steps,
		"time":    forecastTimes,
		"date":    date.String(),
		"param":   params,
		"area":    area,
	}
}
