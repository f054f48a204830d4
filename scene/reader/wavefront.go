package reader

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/types"
)

// Raw material parameters as found in a wavefront material library. They are
// mapped to one of the scene material kinds once parsing completes.
type materialDef struct {
	Name string

	Kd types.Vec3
	Ks types.Vec3
	Ke types.Vec3
	Tf types.Vec3

	Ni float32
	Nr float32
	Ns float32
	D  float32

	Illum int

	hasNr bool
	hasNs bool
}

func newMaterialDef(name string) *materialDef {
	return &materialDef{
		Name: name,
		Kd:   types.Vec3{0.7, 0.7, 0.7},
		Tf:   types.Vec3{1, 1, 1},
		Ni:   1,
		D:    1,
	}
}

// Index triplet (position, uv, normal) referenced by a face argument; -1
// marks an absent coordinate.
type faceVertex [3]int

type wavefrontSceneReader struct {
	logger log.Logger

	// The parsed scene.
	input *scene.Input

	// Parsed materials and a lookup of material names to their index.
	materials      []*materialDef
	matNameToIndex map[string]uint32

	// Currently selected material index
	curMaterial int32

	// List of vertices, normals and uv coords.
	vertexList []types.Vec3
	normalList []types.Vec3
	uvList     []types.Vec2

	// Scene vertices emitted for each distinct face argument.
	vertexCache map[faceVertex]uint32

	// An error stack that provides additional error information when
	// scene files include other files (models, mat libs e.t.c)
	errStack []string
}

// Create a new wavefront scene reader.
func newWavefrontReader() *wavefrontSceneReader {
	return &wavefrontSceneReader{
		logger:         log.New("wavefront reader"),
		input:          &scene.Input{},
		matNameToIndex: make(map[string]uint32, 0),
		curMaterial:    -1,
		vertexList:     make([]types.Vec3, 0),
		normalList:     make([]types.Vec3, 0),
		uvList:         make([]types.Vec2, 0),
		vertexCache:    make(map[faceVertex]uint32),
		errStack:       make([]string, 0),
	}
}

// Read scene definition.
func (r *wavefrontSceneReader) Read(sceneRes *resource) (*scene.Input, error) {
	r.logger.Noticef("parsing scene from %s", sceneRes.Path())
	start := time.Now()

	err := r.parse(sceneRes)
	if err != nil {
		return nil, err
	}

	r.input.Materials = make([]scene.Material, len(r.materials))
	for index, def := range r.materials {
		r.input.Materials[index] = def.toMaterial()
	}

	if cam := r.input.Camera; cam != nil {
		cam.SetupProjection(cam.Aspect)
	}

	triCount := 0
	for _, mesh := range r.input.Meshes {
		triCount += len(mesh.Indices) / 3
	}
	r.logger.Noticef(
		"parsed scene in %d ms (meshes: %d, triangles: %d, vertices: %d, materials: %d, instances: %d)",
		time.Since(start).Nanoseconds()/1000000,
		len(r.input.Meshes), triCount, len(r.input.Vertices), len(r.input.Materials), len(r.input.Instances),
	)

	return r.input, nil
}

// Generate an error message that also includes any data in the error stack.
func (r *wavefrontSceneReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	msg := fmt.Sprintf(msgFormat, args...)

	var errMsg string
	if file != "" {
		errMsg = strings.Trim(
			fmt.Sprintf("[%s: %d] error: %s\n%s", file, line, msg, strings.Join(r.errStack, "\n")),
			"\n",
		)
	} else {
		errMsg = strings.Trim(
			fmt.Sprintf("error: %s\n%s", msg, strings.Join(r.errStack, "\n")),
			"\n",
		)
	}

	return fmt.Errorf("%s", errMsg)
}

// Push a frame to the error stack.
func (r *wavefrontSceneReader) pushFrame(msg string) {
	r.errStack = append([]string{msg}, r.errStack...)
}

// Pop a frame from the error stack.
func (r *wavefrontSceneReader) popFrame() {
	r.errStack = r.errStack[1:]
}

// Create and select a default material for surfaces not using one.
func (r *wavefrontSceneReader) defaultMaterial() int32 {
	matName := ""

	matIndex, exists := r.matNameToIndex[matName]
	if !exists {
		r.materials = append(r.materials, newMaterialDef(matName))
		matIndex = uint32(len(r.materials) - 1)
		r.matNameToIndex[matName] = matIndex
	}
	r.curMaterial = int32(matIndex)
	return r.curMaterial
}

// Lazily create the scene camera when the file defines camera settings.
func (r *wavefrontSceneReader) camera() *scene.Camera {
	if r.input.Camera == nil {
		r.input.Camera = scene.NewCamera(45)
	}
	return r.input.Camera
}

// Parse wavefront object scene format.
func (r *wavefrontSceneReader) parse(res *resource) error {
	var lineNum int = 0
	var err error

	scanner := bufio.NewScanner(res)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "call", "mtllib":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, "unsupported syntax for '%s'; expected 1 argument; got %d", lineTokens[0], len(lineTokens)-1)
			}

			r.pushFrame(fmt.Sprintf("referenced from %s:%d [%s]", res.Path(), lineNum, lineTokens[0]))

			incRes, err := newResource(lineTokens[1], res)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}

			switch lineTokens[0] {
			case "call":
				err = r.parse(incRes)
			case "mtllib":
				err = r.parseMaterials(incRes)
			}
			incRes.Close()

			if err != nil {
				return err
			}
			r.popFrame()
		case "usemtl":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, "unsupported syntax for 'usemtl'; expected 1 argument; got %d", len(lineTokens)-1)
			}

			matName := lineTokens[1]
			matIndex, exists := r.matNameToIndex[matName]
			if !exists {
				return r.emitError(res.Path(), lineNum, "undefined material with name '%s'", matName)
			}

			r.curMaterial = int32(matIndex)
		case "v":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.vertexList = append(r.vertexList, v)
		case "vn":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.normalList = append(r.normalList, v)
		case "vt":
			v, err := parseVec2(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.uvList = append(r.uvList, v)
		case "g", "o":
			if len(lineTokens) < 2 {
				return r.emitError(res.Path(), lineNum, "unsupported syntax for '%s'; expected 1 argument for object name; got %d", lineTokens[0], len(lineTokens)-1)
			}

			r.input.Meshes = append(r.input.Meshes, scene.Mesh{Name: lineTokens[1]})
		case "f":
			err := r.parseFace(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		case "s", "l", "p":
			// Smoothing groups, lines and points do not affect rendering.
			continue
		case "camera_fov":
			r.camera().FOV, err = parseFloat32(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		case "camera_eye":
			r.camera().Position, err = parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		case "camera_look":
			r.camera().LookAt, err = parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		case "camera_up":
			r.camera().Up, err = parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		case "instance":
			instance, err := r.parseMeshInstance(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.input.Instances = append(r.input.Instances, instance)
		default:
			r.logger.Debugf("[%s: %d] ignoring unsupported statement '%s'", res.Path(), lineNum, lineTokens[0])
		}
	}

	return scanner.Err()
}

// Parse mesh instance definition. Definitions use the following format:
// instance mesh_name tX tY tZ rX rY rZ sX sY sZ
// where:
// - tX, tY, tZ : translation vector
// - rX, rY, rZ : rotation angles in degrees
// - sX, sY, sZ : scale
//
// The instance transform is M = T * R * S.
func (r *wavefrontSceneReader) parseMeshInstance(lineTokens []string) (scene.MeshInstance, error) {
	if len(lineTokens) != 11 {
		return scene.MeshInstance{}, fmt.Errorf("unsupported syntax for 'instance'; expected 10 arguments: mesh_name tX tY tZ rX rY rZ sX sY sZ; got %d", len(lineTokens)-1)
	}

	meshName := lineTokens[1]
	meshIndex := -1
	for index, mesh := range r.input.Meshes {
		if mesh.Name == meshName {
			meshIndex = index
			break
		}
	}

	if meshIndex == -1 {
		return scene.MeshInstance{}, fmt.Errorf("unknown mesh with name '%s'", meshName)
	}

	var args [9]float32
	for index := range args {
		v, err := strconv.ParseFloat(lineTokens[index+2], 32)
		if err != nil {
			return scene.MeshInstance{}, err
		}
		args[index] = float32(v)
	}

	translation := types.Vec3{args[0], args[1], args[2]}
	rotation := types.Vec3{args[3], args[4], args[5]}.Mul(math.Pi / 180.0)
	scale := types.Vec3{args[6], args[7], args[8]}

	transform := types.Translate4(translation).Mul4(types.RotateXYZ4(rotation).Mul4(types.Scale4(scale)))
	return scene.MeshInstance{Mesh: meshIndex, Transform: transform}, nil
}

// Parse face definition. Each face definitions consists of 3 or more
// arguments, one for each vertex. Each one of the vertex arguments is
// comprised of 1, 2 or 3 args separated by a slash character. The following
// formats are supported:
// - vertexIndex
// - vertexIndex/uvIndex
// - vertexIndex//normalIndex
// - vertexIndex/uvIndex/normalIndex
//
// Indices start from 1 and may be negative to indicate
// an offset off the end of the vertex/uv list.
//
// Faces with more than 3 vertices are split into a triangle fan.
func (r *wavefrontSceneReader) parseFace(lineTokens []string) error {
	if len(lineTokens) < 4 {
		return fmt.Errorf("unsupported syntax for 'f'; expected at least 3 arguments; got %d", len(lineTokens)-1)
	}

	argCount := len(lineTokens) - 1
	indices := make([]uint32, argCount)
	expIndices := 0
	for arg := 0; arg < argCount; arg++ {
		vTokens := strings.Split(lineTokens[arg+1], "/")

		// The first arg defines the format for the following args
		if arg == 0 {
			expIndices = len(vTokens)
			if expIndices > 3 {
				return fmt.Errorf("face argument 0 contains %d indices; expected at most 3", expIndices)
			}
		} else if len(vTokens) != expIndices {
			return fmt.Errorf("expected each face argument to contain %d indices; arg %d contains %d indices", expIndices, arg, len(vTokens))
		}

		// Faces must at least define a vertex coord
		if vTokens[0] == "" {
			return fmt.Errorf("face argument %d does not include a vertex index", arg)
		}

		key := faceVertex{-1, -1, -1}
		var err error
		key[0], err = selectFaceCoordIndex(vTokens[0], len(r.vertexList))
		if err != nil {
			return fmt.Errorf("could not parse vertex coord for face argument %d: %s", arg, err.Error())
		}

		if len(vTokens) > 1 && vTokens[1] != "" {
			key[1], err = selectFaceCoordIndex(vTokens[1], len(r.uvList))
			if err != nil {
				return fmt.Errorf("could not parse tex coord for face argument %d: %s", arg, err.Error())
			}
		}

		if len(vTokens) > 2 && vTokens[2] != "" {
			key[2], err = selectFaceCoordIndex(vTokens[2], len(r.normalList))
			if err != nil {
				return fmt.Errorf("could not parse normal coord for face argument %d: %s", arg, err.Error())
			}
		}

		indices[arg] = r.emitVertex(key)
	}

	// If no material defined select the default
	if r.curMaterial < 0 {
		r.curMaterial = r.defaultMaterial()
	}

	// If no object has been defined create a default one
	if len(r.input.Meshes) == 0 {
		r.input.Meshes = append(r.input.Meshes, scene.Mesh{Name: "default"})
	}

	mesh := &r.input.Meshes[len(r.input.Meshes)-1]
	for fan := 1; fan+1 < argCount; fan++ {
		mesh.Indices = append(mesh.Indices, indices[0], indices[fan], indices[fan+1])
		mesh.Materials = append(mesh.Materials, uint32(r.curMaterial))
	}

	return nil
}

// Get the scene vertex for a face argument, creating it on first use.
func (r *wavefrontSceneReader) emitVertex(key faceVertex) uint32 {
	if index, exists := r.vertexCache[key]; exists {
		return index
	}

	v := scene.Vertex{Position: r.vertexList[key[0]]}
	if key[1] >= 0 {
		v.UV = r.uvList[key[1]]
	}
	if key[2] >= 0 {
		v.Normal = r.normalList[key[2]]
	}

	index := uint32(len(r.input.Vertices))
	r.input.Vertices = append(r.input.Vertices, v)
	r.vertexCache[key] = index
	return index
}

// Parse a wavefront material library.
func (r *wavefrontSceneReader) parseMaterials(res *resource) error {
	var lineNum int = 0
	var err error

	scanner := bufio.NewScanner(res)

	var curMaterial *materialDef = nil
	var matName string = ""

	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "newmtl":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, "unsupported syntax for 'newmtl'; expected 1 argument; got %d", len(lineTokens)-1)
			}

			matName = lineTokens[1]
			if _, exists := r.matNameToIndex[matName]; exists {
				return r.emitError(res.Path(), lineNum, "material '%s' already defined", matName)
			}

			curMaterial = newMaterialDef(matName)
			r.materials = append(r.materials, curMaterial)
			r.matNameToIndex[matName] = uint32(len(r.materials) - 1)
		default:
			if curMaterial == nil {
				return r.emitError(res.Path(), lineNum, "got '%s' without a 'newmtl'", lineTokens[0])
			}

			switch lineTokens[0] {
			case "Kd", "Ks", "Ke", "Tf":
				var target *types.Vec3
				switch lineTokens[0] {
				case "Kd":
					target = &curMaterial.Kd
				case "Ks":
					target = &curMaterial.Ks
				case "Ke":
					target = &curMaterial.Ke
				case "Tf":
					target = &curMaterial.Tf
				}

				*target, err = parseVec3(lineTokens)
			case "Ni", "Nr", "Ns", "d":
				var target *float32
				switch lineTokens[0] {
				case "Ni":
					target = &curMaterial.Ni
				case "Nr":
					target = &curMaterial.Nr
					curMaterial.hasNr = true
				case "Ns":
					target = &curMaterial.Ns
					curMaterial.hasNs = true
				case "d":
					target = &curMaterial.D
				}

				*target, err = parseFloat32(lineTokens)
			case "illum":
				var illum float32
				illum, err = parseFloat32(lineTokens)
				curMaterial.Illum = int(illum)
			case "map_Kd", "map_Ks", "map_Ke", "map_bump", "bump", "map_Ni", "map_Nr", "map_d":
				r.logger.Warningf("[%s: %d] ignoring texture '%s' for material '%s'; textures are not supported", res.Path(), lineNum, strings.Join(lineTokens[1:], " "), matName)
			default:
				r.logger.Debugf("[%s: %d] ignoring unsupported material parameter '%s'", res.Path(), lineNum, lineTokens[0])
			}

			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		}
	}

	return scanner.Err()
}

// Map the raw wavefront parameters to a scene material:
// - any emission selects an emissive material;
// - transparent surfaces (d < 1 or illum 4, 6, 7, 9) with an IOR above 1
//   select a dielectric;
// - a specular color brighter than the diffuse one selects a metal;
// - everything else is diffuse.
func (def *materialDef) toMaterial() scene.Material {
	roughness := def.roughness()

	switch {
	case def.Ke.MaxComponent() > 0:
		mat := scene.NewEmissive(def.Ke)
		mat.Albedo = def.Kd
		return mat
	case def.Ni > 1 && (def.D < 1 || def.Illum == 4 || def.Illum == 6 || def.Illum == 7 || def.Illum == 9):
		return scene.NewDielectric(def.Tf, def.Ni, roughness)
	case def.Ks.MaxComponent() > def.Kd.MaxComponent():
		return scene.NewMetal(def.Ks, roughness)
	}
	return scene.NewDiffuse(def.Kd)
}

// Get the material roughness either from an explicit Nr value or by
// converting the Phong exponent. Materials defining neither are smooth.
func (def *materialDef) roughness() float32 {
	var roughness float32
	switch {
	case def.hasNr:
		roughness = def.Nr
	case def.hasNs:
		roughness = float32(math.Sqrt(2.0 / (float64(def.Ns) + 2.0)))
	}
	return float32(math.Max(0, math.Min(1, float64(roughness))))
}

// Given an index for a face coord type (vertex, normal, tex) calculate the
// proper offset into the coord list. Wavefront format can also use negative
// indices to reference elements from the end of the coord list.
func selectFaceCoordIndex(indexToken string, coordListLen int) (int, error) {
	index, err := strconv.ParseInt(indexToken, 10, 32)
	if err != nil {
		return -1, err
	}

	var vOffset int = 0
	if index < 0 {
		vOffset = coordListLen + int(index)
	} else {
		vOffset = int(index - 1)
	}
	if vOffset < 0 || vOffset >= coordListLen {
		return -1, fmt.Errorf("index out of bounds")
	}
	return vOffset, nil
}

// Parse a float scalar value.
func parseFloat32(lineTokens []string) (float32, error) {
	if len(lineTokens) < 2 {
		return 0, fmt.Errorf("unsupported syntax for '%s'; expected 1 argument; got %d", lineTokens[0], len(lineTokens)-1)
	}

	val, err := strconv.ParseFloat(lineTokens[1], 32)
	if err != nil {
		return 0, err
	}

	return float32(val), nil
}

// Parse a Vec3 row.
func parseVec3(lineTokens []string) (types.Vec3, error) {
	if len(lineTokens) < 4 {
		return types.Vec3{}, fmt.Errorf("unsupported syntax for '%s'; expected 3 arguments; got %d", lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec3{}
	for tokIdx := 1; tokIdx <= 3; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}

// Parse a Vec2 row.
func parseVec2(lineTokens []string) (types.Vec2, error) {
	if len(lineTokens) < 3 {
		return types.Vec2{}, fmt.Errorf("unsupported syntax for '%s'; expected 2 arguments; got %d", lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec2{}
	for tokIdx := 1; tokIdx <= 2; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}
