package spirv

import (
	"fmt"

	"github.com/gogpu/naga"
)

// CompileWGSL compiles WGSL source to SPIR-V words with naga. Results are
// cached by source, so compiling the same text twice yields identical words
// without invoking naga again.
func CompileWGSL(source string) ([]uint32, error) {
	if words, ok := wgslCache.get(source); ok {
		return words, nil
	}
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("spirv: compile wgsl: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("%w: naga produced %d bytes", ErrMalformed, len(spirvBytes))
	}
	words, err := Words(spirvBytes)
	if err != nil {
		return nil, err
	}
	wgslCache.put(source, words)
	return words, nil
}
