// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

// Minimize removes chunks of data while pred holds for the result.
// pred must hold for data itself. Chunks shrink from half of the input
// down to single bytes. pred is called at most maxCalls times, unlimited if maxCalls <= 0.
// Returns the smallest input for which pred held.
func Minimize(data []byte, maxCalls int, pred func(input []byte) bool) []byte {
	data = append([]byte{}, data...)
	calls := 0
	exhausted := func() bool {
		return maxCalls > 0 && calls >= maxCalls
	}
	for chunk := len(data) / 2; chunk >= 1 && !exhausted(); chunk /= 2 {
		for pos := 0; pos < len(data) && !exhausted(); {
			end := min(pos+chunk, len(data))
			candidate := make([]byte, 0, len(data)-(end-pos))
			candidate = append(candidate, data[:pos]...)
			candidate = append(candidate, data[end:]...)
			calls++
			if pred(candidate) {
				data = candidate
				continue
			}
			pos = end
		}
	}
	if len(data) == 1 && !exhausted() {
		calls++
		if pred(nil) {
			return nil
		}
	}
	return data
}
