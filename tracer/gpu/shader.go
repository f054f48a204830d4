package gpu

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
)

var (
	ErrShaderCompile = errors.New("gpu: failed to compile shader")
	ErrNoAdapter     = errors.New("gpu: no compatible adapter found")
)

//go:embed shaders/intersect.wgsl
var intersectShaderWGSL string

// Compile the traversal kernel to SPIR-V words. SPIR-V is little-endian.
func CompileIntersectShader() ([]uint32, error) {
	spirvBytes, err := naga.Compile(intersectShaderWGSL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShaderCompile, err)
	}
	if len(spirvBytes) == 0 || len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("%w: malformed SPIR-V module (%d bytes)", ErrShaderCompile, len(spirvBytes))
	}

	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return spirvCode, nil
}
