package reader

import (
	"reflect"
	"strings"
	"testing"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/types"
)

const singleFacePayload = `
o testObj
v 0 0 0
v 1 0 0
v 0 1 0
vn 1 0 0
vt 0 0
vn 0 1 0
vt 0 1
vn 0 1 0
vt 1 0
vn 0 0 1
# Comment
f 1/1/1 2/2/2 -1/-1/-1
`

func TestFloat32Parser(t *testing.T) {
	expError := "unsupported syntax for 'v'; expected 1 argument; got 0"
	_, err := parseFloat32([]string{"v"})
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get %s; got %v", expError, err)
	}

	_, err = parseFloat32([]string{"v", "not-a-float"})
	if err == nil {
		t.Fatal("expected to get a parse error")
	}

	v, err := parseFloat32([]string{"v", "3.14"})
	if err != nil {
		t.Fatal(err)
	}

	if v != 3.14 {
		t.Fatalf("expected parsed value to be 3.14; got %f", v)
	}
}

func TestVec2Parser(t *testing.T) {
	expError := "unsupported syntax for 'v'; expected 2 arguments; got 0"
	_, err := parseVec2([]string{"v"})
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get %s; got %v", expError, err)
	}

	_, err = parseVec2([]string{"v", "not-a-float", "2"})
	if err == nil {
		t.Fatal("expected to get a parse error")
	}

	v, err := parseVec2([]string{"v", "3.14", "0"})
	if err != nil {
		t.Fatal(err)
	}

	expVal := types.Vec2{3.14, 0}
	if !reflect.DeepEqual(v, expVal) {
		t.Fatalf("expected parsed value to be %v; got %v", expVal, v)
	}
}

func TestVec3Parser(t *testing.T) {
	expError := "unsupported syntax for 'v'; expected 3 arguments; got 0"
	_, err := parseVec3([]string{"v"})
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get %s; got %v", expError, err)
	}

	_, err = parseVec3([]string{"v", "not-a-float", "2", "3"})
	if err == nil {
		t.Fatal("expected to get a parse error")
	}

	v, err := parseVec3([]string{"v", "3.14", "0", "0.4"})
	if err != nil {
		t.Fatal(err)
	}

	expVal := types.Vec3{3.14, 0, 0.4}
	if !reflect.DeepEqual(v, expVal) {
		t.Fatalf("expected parsed value to be %v; got %v", expVal, v)
	}
}

func TestSelectFaceCoordinate(t *testing.T) {
	expError := "index out of bounds"
	type spec struct {
		in       string
		listLen  int
		out      int
		expError string
	}
	specs := []spec{
		{"2", 1, -1, expError},
		{"-2", 1, -1, expError},
		{"1", 10, 0, ""}, // indices are 1-based
		{"-1", 10, 9, ""},
	}

	for idx, s := range specs {
		v, err := selectFaceCoordIndex(s.in, s.listLen)
		if s.expError != "" && (err == nil || err.Error() != s.expError) {
			t.Fatalf("[spec %d] expected error %s; got %v", idx, s.expError, err)
		} else if v != s.out {
			t.Fatalf("[spec %d] expected index to be %d; got %d", idx, s.out, v)
		}
	}
}

func TestParseSingleFacedObject(t *testing.T) {
	in, err := newWavefrontReader().Read(mockResource(singleFacePayload))
	if err != nil {
		t.Fatal(err)
	}

	if len(in.Meshes) != 1 {
		t.Fatalf("expected 1 mesh to be parsed; got %d", len(in.Meshes))
	}

	mesh0 := in.Meshes[0]
	if mesh0.Name != "testObj" {
		t.Fatalf("expected mesh[0] name to be 'testObj'; got %s", mesh0.Name)
	}
	if exp := []uint32{0, 1, 2}; !reflect.DeepEqual(mesh0.Indices, exp) {
		t.Fatalf("expected mesh[0] indices to be %v; got %v", exp, mesh0.Indices)
	}

	// Faces without a material use a generated default material.
	if len(in.Materials) != 1 || in.Materials[0].Kind != scene.Diffuse {
		t.Fatalf("expected scene to contain 1 default diffuse material; got %v", in.Materials)
	}

	expPoints := []types.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	expNormals := []types.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	expUVs := []types.Vec2{{0, 0}, {0, 1}, {1, 0}}
	if len(in.Vertices) != 3 {
		t.Fatalf("expected 3 vertices; got %d", len(in.Vertices))
	}
	for idx, v := range in.Vertices {
		if !reflect.DeepEqual(v.Position, expPoints[idx]) {
			t.Fatalf("expected vertex %d to be %v; got %v", idx, expPoints[idx], v.Position)
		}
		if !reflect.DeepEqual(v.Normal, expNormals[idx]) {
			t.Fatalf("expected normal %d to be %v; got %v", idx, expNormals[idx], v.Normal)
		}
		if !reflect.DeepEqual(v.UV, expUVs[idx]) {
			t.Fatalf("expected uv %d to be %v; got %v", idx, expUVs[idx], v.UV)
		}
	}

	if len(in.Instances) != 0 {
		t.Fatalf("expected no explicit instances; got %d", len(in.Instances))
	}
	store, err := scene.NewGeometryStore(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.Instances) != 1 || !store.Instances[0].Transform.ApproxEqual(types.Ident4(), 1e-6) {
		t.Fatal("expected a single identity instance to be generated for the mesh")
	}
}

func TestPolygonTriangulationAndVertexReuse(t *testing.T) {
	payload := `
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
v 2 0 0
f 1 2 3 4
f 2 5 3
`
	in, err := newWavefrontReader().Read(mockResource(payload))
	if err != nil {
		t.Fatal(err)
	}

	if len(in.Meshes) != 1 || in.Meshes[0].Name != "default" {
		t.Fatalf("expected faces to be added to a default mesh; got %v", in.Meshes)
	}
	if exp := []uint32{0, 1, 2, 0, 2, 3, 1, 4, 2}; !reflect.DeepEqual(in.Meshes[0].Indices, exp) {
		t.Fatalf("expected indices %v; got %v", exp, in.Meshes[0].Indices)
	}
	if len(in.Meshes[0].Materials) != 3 {
		t.Fatalf("expected a material per triangle; got %d", len(in.Meshes[0].Materials))
	}
	if len(in.Vertices) != 5 {
		t.Fatalf("expected shared face vertices to be reused; got %d vertices", len(in.Vertices))
	}
}

func TestMeshInstancing(t *testing.T) {
	payload := singleFacePayload + `
# Mesh instances
instance testObj 	1 0 1	0 0 0 	1 1 1
instance testObj 	0 0 0	0 90 0 	1 1 1
instance testObj 	0 1 0	90 0 0	10 10 10
`
	in, err := newWavefrontReader().Read(mockResource(payload))
	if err != nil {
		t.Fatal(err)
	}

	if len(in.Instances) != 3 {
		t.Fatalf("expected 3 mesh instances; got %d", len(in.Instances))
	}

	type spec struct {
		instance   int
		in, expOut types.Vec3
	}
	specs := []spec{
		{0, types.Vec3{0, 0, 0}, types.Vec3{1, 0, 1}},
		{0, types.Vec3{-1, 0, -1}, types.Vec3{0, 0, 0}},
		{1, types.Vec3{1, 0, 0}, types.Vec3{0, 0, -1}},
		{1, types.Vec3{0, 0, -1}, types.Vec3{-1, 0, 0}},
		{2, types.Vec3{0, 1, 0}, types.Vec3{0, 1, 10}},
	}
	for idx, s := range specs {
		inst := in.Instances[s.instance]
		out := inst.Transform.TransformPoint(s.in)
		if !out.ApproxEqual(s.expOut, 1e-3) {
			t.Fatalf("[spec %d] expected transformed point with instance %d matrix to be %v; got %v", idx, s.instance, s.expOut, out)
		}
	}
}

func TestSceneParseErrors(t *testing.T) {
	specs := []struct {
		payload  string
		expError string
	}{
		{"\nusemtl foo", "[embedded: 2] error: undefined material with name 'foo'"},
		{"f 1 2 3", "[embedded: 1] error: could not parse vertex coord for face argument 0: index out of bounds"},
		{"v 0 0 0\nf 1 1", "[embedded: 2] error: unsupported syntax for 'f'; expected at least 3 arguments; got 2"},
		{"v 0 0 0\nvt 0 0\nf 1/1 1 1", "[embedded: 3] error: expected each face argument to contain 2 indices; arg 1 contains 1 indices"},
		{"instance foo 0 0 0 0 0 0 1 1 1", "[embedded: 1] error: unknown mesh with name 'foo'"},
		{"o", "[embedded: 1] error: unsupported syntax for 'o'; expected 1 argument for object name; got 0"},
		{"camera_eye 1 2", "[embedded: 1] error: unsupported syntax for 'camera_eye'; expected 3 arguments; got 2"},
	}

	for idx, s := range specs {
		_, err := newWavefrontReader().Read(mockResource(s.payload))
		if err == nil || err.Error() != s.expError {
			t.Fatalf("[spec %d] expected error %q; got %v", idx, s.expError, err)
		}
	}
}

func TestIncludeErrorsReportReferenceStack(t *testing.T) {
	_, err := newWavefrontReader().Read(mockResource("mtllib does-not-exist.mtl"))
	if err == nil {
		t.Fatal("expected an error for a missing material library")
	}
	if !strings.Contains(err.Error(), "referenced from embedded:1 [mtllib]") {
		t.Fatalf("expected error to include the reference stack; got %v", err)
	}
}

func TestCameraDefinition(t *testing.T) {
	payload := `
camera_fov 60
camera_eye 0 1 5
camera_look 0 1 0
camera_up 0 1 0
`
	in, err := newWavefrontReader().Read(mockResource(payload))
	if err != nil {
		t.Fatal(err)
	}
	if in.Camera == nil {
		t.Fatal("expected camera to be defined")
	}
	if in.Camera.FOV != 60 {
		t.Fatalf("expected camera fov to be 60; got %f", in.Camera.FOV)
	}
	if exp := (types.Vec3{0, 1, 5}); in.Camera.Position != exp {
		t.Fatalf("expected camera eye to be %v; got %v", exp, in.Camera.Position)
	}

	// The center ray looks down the view direction.
	dir := in.Camera.RayDir(0.5, 0.5).Normalize()
	if !dir.ApproxEqual(types.Vec3{0, 0, -1}, 1e-3) {
		t.Fatalf("expected center ray to point to -Z; got %v", dir)
	}
}

func TestMaterialLoaderMissingNewMaterialCommand(t *testing.T) {
	payload := `Kd 1.0 1.0 1.0`
	err := newWavefrontReader().parseMaterials(mockResource(payload))

	expError := "[embedded: 1] error: got 'Kd' without a 'newmtl'"
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get error: %s; got %v", expError, err)
	}
}

func TestMaterialLoaderInvalidVec3Param(t *testing.T) {
	payload := `
	newmtl foo
	Kd 1.0`
	err := newWavefrontReader().parseMaterials(mockResource(payload))

	expError := "[embedded: 3] error: unsupported syntax for 'Kd'; expected 3 arguments; got 1"
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get error: %s; got %v", expError, err)
	}
}

func TestMaterialLoaderInvalidScalarParam(t *testing.T) {
	payload := `
	newmtl foo
	Ni`
	err := newWavefrontReader().parseMaterials(mockResource(payload))

	expError := "[embedded: 3] error: unsupported syntax for 'Ni'; expected 1 argument; got 0"
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get error: %s; got %v", expError, err)
	}
}

func TestMaterialLoaderDuplicateMaterial(t *testing.T) {
	payload := "newmtl foo\nnewmtl foo"
	err := newWavefrontReader().parseMaterials(mockResource(payload))

	expError := "[embedded: 2] error: material 'foo' already defined"
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get error: %s; got %v", expError, err)
	}
}

func TestMaterialLoaderSuccess(t *testing.T) {
	payload := `
	# comment
	newmtl foo
	Kd 1.0 1.0 1.0
	Ks 0.1 0.2 0.3
	Ke 0.4    0.5 0.6
	Ni 2.5
	Nr 0
	map_Kd foo.png`
	r := newWavefrontReader()
	err := r.parseMaterials(mockResource(payload))
	if err != nil {
		t.Fatal(err)
	}

	if len(r.materials) != 1 {
		t.Fatalf("expected to parse 1 material; got %d", len(r.materials))
	}

	mat := r.materials[0]
	if mat.Name != "foo" {
		t.Fatalf("expected material name to be 'foo'; got %s", mat.Name)
	}

	expVec3 := types.Vec3{1, 1, 1}
	if !reflect.DeepEqual(mat.Kd, expVec3) {
		t.Fatalf("expected Kd to be %v; got %v", expVec3, mat.Kd)
	}
	expVec3 = types.Vec3{0.1, 0.2, 0.3}
	if !reflect.DeepEqual(mat.Ks, expVec3) {
		t.Fatalf("expected Ks to be %v; got %v", expVec3, mat.Ks)
	}
	expVec3 = types.Vec3{0.4, 0.5, 0.6}
	if !reflect.DeepEqual(mat.Ke, expVec3) {
		t.Fatalf("expected Ke to be %v; got %v", expVec3, mat.Ke)
	}
	var expScalar float32 = 2.5
	if mat.Ni != expScalar {
		t.Fatalf("expected Ni to be %f; got %f", expScalar, mat.Ni)
	}
	if mat.Nr != 0 || !mat.hasNr {
		t.Fatalf("expected Nr to be explicitly set to 0; got %f", mat.Nr)
	}
}

func TestMaterialKindMapping(t *testing.T) {
	payload := `
newmtl lamp
Ke 4 4 4
newmtl glass
Ni 1.5
d 0.2
newmtl chrome
Kd 0 0 0
Ks 0.9 0.9 0.9
Nr 0.2
newmtl plaster
Kd 0.5 0.5 0.5
Ks 0.1 0.1 0.1
`
	r := newWavefrontReader()
	if err := r.parseMaterials(mockResource(payload)); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		name      string
		expKind   scene.MaterialKind
		roughness float32
	}{
		{"lamp", scene.Emissive, -1},
		{"glass", scene.Dielectric, -1},
		{"chrome", scene.Metallic, 0.2},
		{"plaster", scene.Diffuse, -1},
	}
	for idx, s := range specs {
		mat := r.materials[r.matNameToIndex[s.name]].toMaterial()
		if mat.Kind != s.expKind {
			t.Fatalf("[spec %d] expected material %s to be %s; got %s", idx, s.name, s.expKind, mat.Kind)
		}
		if s.roughness >= 0 && mat.Roughness != s.roughness {
			t.Fatalf("[spec %d] expected roughness %f; got %f", idx, s.roughness, mat.Roughness)
		}
		if err := mat.Validate(); err != nil {
			t.Fatalf("[spec %d] %v", idx, err)
		}
	}
}

func TestCornellBox(t *testing.T) {
	store, err := scene.NewGeometryStore(CornellBox())
	if err != nil {
		t.Fatal(err)
	}
	if store.Dropped != 0 {
		t.Fatalf("expected no degenerate triangles; got %d", store.Dropped)
	}
	if len(store.Instances) != 4 {
		t.Fatalf("expected 4 instances; got %d", len(store.Instances))
	}
	if store.Camera == nil {
		t.Fatal("expected the built-in scene to define a camera")
	}

	emissive := 0
	for _, prim := range store.Primitives {
		if store.Materials[prim.Material].IsEmissive() {
			emissive++
		}
	}
	if emissive != 2 {
		t.Fatalf("expected 2 emissive triangles; got %d", emissive)
	}
}
