// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package weathertool provides the weather lookup tool.
//
// The tool answers from a fixed table of ten cities. Lookups are
// case-insensitive; unknown cities produce a "not available" report rather
// than an error.
package weathertool

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kadirpekel/skycast/pkg/tool"
)

// Args are the tool parameters as presented to the LLM.
type Args struct {
	// Location is the city to look up.
	Location string `json:"location" jsonschema:"required,description=City name to look up"`

	// Unit is the temperature unit.
	Unit string `json:"unit,omitempty" jsonschema:"description=Temperature unit,enum=celsius,enum=fahrenheit,default=celsius"`
}

type cityWeather struct {
	name      string
	tempC     float64
	condition string
	humidity  int
}

var cities = map[string]cityWeather{
	"new york":      {"New York", 22, "Sunny", 60},
	"london":        {"London", 18, "Cloudy", 80},
	"tokyo":         {"Tokyo", 28, "Rainy", 75},
	"sydney":        {"Sydney", 30, "Clear", 50},
	"paris":         {"Paris", 20, "Partly Cloudy", 65},
	"berlin":        {"Berlin", 16, "Foggy", 70},
	"moscow":        {"Moscow", 5, "Snowy", 85},
	"dubai":         {"Dubai", 35, "Hot", 45},
	"san francisco": {"San Francisco", 19, "Foggy", 75},
	"chicago":       {"Chicago", 15, "Windy", 60},
}

// Tool implements tool.CallableTool for weather lookups.
type Tool struct {
	schema map[string]any
}

// New creates the weather tool.
func New() (*Tool, error) {
	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}
	return &Tool{schema: schema}, nil
}

// Name implements tool.Tool.
func (t *Tool) Name() string {
	return "get_weather"
}

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return "Get current weather information for a city. Supports celsius and fahrenheit units."
}

// Schema implements tool.CallableTool.
func (t *Tool) Schema() map[string]any {
	return t.schema
}

// Call implements tool.CallableTool. The result map carries a single
// "report" entry with the formatted weather sentence.
func (t *Tool) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	location, _ := args["location"].(string)
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}

	unit, _ := args["unit"].(string)
	if unit == "" {
		unit = "celsius"
	}

	return map[string]any{"report": Lookup(location, unit)}, nil
}

// Lookup returns the formatted weather report for a city. Unknown cities
// yield a fixed "not available" message; the function never fails.
func Lookup(location, unit string) string {
	city, ok := cities[strings.ToLower(strings.TrimSpace(location))]
	if !ok {
		return fmt.Sprintf("Weather data for %s is not available.", location)
	}

	temp := city.tempC
	symbol := "C"
	if strings.EqualFold(unit, "fahrenheit") {
		temp = temp*9/5 + 32
		symbol = "F"
	}

	return fmt.Sprintf("The weather in %s is %s with a temperature of %s°%s and humidity of %d%%.",
		city.name, city.condition, formatTemp(temp), symbol, city.humidity)
}

// Cities returns the canonical names of all known cities.
func Cities() []string {
	names := make([]string, 0, len(cities))
	for _, city := range cities {
		names = append(names, city.name)
	}
	return names
}

func formatTemp(temp float64) string {
	return strconv.FormatFloat(temp, 'f', -1, 64)
}

// Ensure Tool implements tool.CallableTool
var _ tool.CallableTool = (*Tool)(nil)
