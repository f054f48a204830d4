package gpu

import (
	"encoding/binary"
	"math"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/DavidPeicho/loupiote/types"
)

// Byte sizes of the structs shared with the traversal kernel.
const (
	nodeSize   = 32
	vertexSize = 16
	raySize    = 32
	hitSize    = 16
	paramsSize = 16
)

func putVec3(buf []byte, v types.Vec3) {
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v[2]))
}

func packNodes(nodes []scene.BvhNode) []byte {
	// Storage bindings must not be empty.
	out := make([]byte, max(len(nodes), 1)*nodeSize)
	for index := range nodes {
		node := &nodes[index]
		buf := out[index*nodeSize:]
		putVec3(buf[0:], node.Min)
		binary.LittleEndian.PutUint32(buf[12:], node.Offset)
		putVec3(buf[16:], node.Max)
		binary.LittleEndian.PutUint32(buf[28:], node.Meta)
	}
	return out
}

// Triangles are uploaded as three vec4 positions each; the w lane is unused.
func packTriangles(tris []scene.Triangle) []byte {
	out := make([]byte, max(len(tris), 1)*3*vertexSize)
	for index := range tris {
		buf := out[index*3*vertexSize:]
		putVec3(buf[0:], tris[index].V0)
		putVec3(buf[vertexSize:], tris[index].V1)
		putVec3(buf[2*vertexSize:], tris[index].V2)
	}
	return out
}

func packRays(rays []tracer.Ray) []byte {
	out := make([]byte, len(rays)*raySize)
	for index := range rays {
		ray := &rays[index]
		buf := out[index*raySize:]
		putVec3(buf[0:], ray.Origin)
		binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(ray.TMin))
		putVec3(buf[16:], ray.Dir)
		binary.LittleEndian.PutUint32(buf[28:], math.Float32bits(ray.TMax))
	}
	return out
}

func packParams(rayCount, nodeCount uint32) []byte {
	out := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(out[0:], rayCount)
	binary.LittleEndian.PutUint32(out[4:], nodeCount)
	return out
}

// Decode kernel output. The kernel leaves T at the ray's TMax for misses;
// they are normalized to tracer.Miss().
func unpackHits(data []byte, hits []tracer.HitRecord) {
	for index := range hits {
		buf := data[index*hitSize:]
		prim := binary.LittleEndian.Uint32(buf[0:])
		if prim == tracer.MissPrimitive {
			hits[index] = tracer.Miss()
			continue
		}
		hits[index] = tracer.HitRecord{
			Primitive: prim,
			U:         math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])),
			V:         math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])),
			T:         math.Float32frombits(binary.LittleEndian.Uint32(buf[12:])),
		}
	}
}
