/*
Copyright (c) The AWDL-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// PrintColored writes the counter dump to w, highlighting the failure
// counters (tx_fail, rx_malformed) in red when non-zero so an operator
// scanning a terminal catches them without reading every line.
func (c *Counters) PrintColored(w io.Writer) {
	snap := c.Snapshot()
	warn := color.New(color.FgRed, color.Bold)
	ok := color.New(color.FgGreen)

	for _, name := range order {
		v := snap[name]
		line := fmt.Sprintf("%-17s %d\n", name, v)
		if (name == TxFail || name == RxMalformed) && v > 0 {
			warn.Fprint(w, line)
			continue
		}
		ok.Fprint(w, line)
	}
}
