package loaders

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/relight3d/go-relight/pkg/core"
)

// PointCloud holds per-vertex data decoded from a PLY file. Colors and
// Normals are empty when the file does not carry them.
type PointCloud struct {
	Points  []core.Vec3
	Colors  []core.Vec3 // normalized to [0, 1]
	Normals []core.Vec3
}

// PLYHeader represents the parsed header information from a PLY file
type PLYHeader struct {
	Format      string // "binary_little_endian" or "ascii"
	Version     string // Usually "1.0"
	VertexCount int
	VertexProps []PLYProperty

	// Property detection flags and indices for efficient access
	HasNormals    bool
	HasColors     bool
	NormalIndices [3]int // Indices of nx, ny, nz properties
	ColorIndices  [3]int // Indices of red, green, blue properties
}

// PLYProperty represents a property definition in the PLY header
type PLYProperty struct {
	Name     string
	Type     string
	IsList   bool
	ListType string // For list properties, the type of the count
	DataType string // For list properties, the type of the data
}

// LoadPLY loads a PLY file and returns the decoded point cloud
func LoadPLY(filename string) (*PointCloud, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open PLY file: %w", err)
	}
	defer file.Close()

	header, headerSize, err := parsePLYHeader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PLY header: %w", err)
	}

	if _, err := file.Seek(int64(headerSize), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to vertex data: %w", err)
	}

	switch header.Format {
	case "binary_little_endian":
		return readBinaryLittleEndian(file, header)
	case "ascii":
		return readASCII(file, header)
	default:
		return nil, fmt.Errorf("unsupported PLY format: %s", header.Format)
	}
}

// SavePLY writes a point cloud as a binary little-endian PLY file,
// creating parent directories as needed
func SavePLY(filename string, cloud *PointCloud) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create PLY directory: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create PLY file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	hasColors := len(cloud.Colors) == len(cloud.Points)
	hasNormals := len(cloud.Normals) == len(cloud.Points)

	fmt.Fprintf(w, "ply\nformat binary_little_endian 1.0\n")
	fmt.Fprintf(w, "element vertex %d\n", len(cloud.Points))
	fmt.Fprintf(w, "property float x\nproperty float y\nproperty float z\n")
	if hasNormals {
		fmt.Fprintf(w, "property float nx\nproperty float ny\nproperty float nz\n")
	}
	if hasColors {
		fmt.Fprintf(w, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	fmt.Fprintf(w, "end_header\n")

	writeFloat := func(v float64) error {
		return binary.Write(w, binary.LittleEndian, float32(v))
	}
	for i, p := range cloud.Points {
		if err := writeFloat(p.X); err != nil {
			return fmt.Errorf("failed to write vertex data: %w", err)
		}
		writeFloat(p.Y)
		writeFloat(p.Z)
		if hasNormals {
			n := cloud.Normals[i]
			writeFloat(n.X)
			writeFloat(n.Y)
			writeFloat(n.Z)
		}
		if hasColors {
			c := cloud.Colors[i].Clamp(0, 1)
			w.WriteByte(byte(math.Round(c.X * 255)))
			w.WriteByte(byte(math.Round(c.Y * 255)))
			w.WriteByte(byte(math.Round(c.Z * 255)))
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush PLY file: %w", err)
	}
	return nil
}

// parsePLYHeader parses the PLY header and returns header info and the byte
// offset where vertex data starts
func parsePLYHeader(file *os.File) (*PLYHeader, int, error) {
	header := &PLYHeader{
		VertexProps: make([]PLYProperty, 0),
	}

	scanner := bufio.NewScanner(file)
	var bytesRead int
	var currentElement string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		bytesRead += len(scanner.Bytes()) + 1 // +1 for newline

		if line == "end_header" {
			break
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "ply":
			// PLY magic number - already validated
		case "format":
			if len(parts) >= 3 {
				header.Format = parts[1]
				header.Version = parts[2]
			}
		case "comment":
			// Ignore comments
		case "element":
			if len(parts) >= 3 {
				count, err := strconv.Atoi(parts[2])
				if err != nil {
					return nil, 0, fmt.Errorf("invalid element count: %s", parts[2])
				}
				currentElement = parts[1]
				if currentElement == "vertex" {
					header.VertexCount = count
				}
			}
		case "property":
			prop, err := parsePLYProperty(parts[1:])
			if err != nil {
				return nil, 0, fmt.Errorf("failed to parse property: %w", err)
			}
			if currentElement != "vertex" {
				continue
			}
			header.VertexProps = append(header.VertexProps, prop)
			propIndex := len(header.VertexProps) - 1

			switch prop.Name {
			case "nx":
				header.HasNormals = true
				header.NormalIndices[0] = propIndex
			case "ny":
				header.HasNormals = true
				header.NormalIndices[1] = propIndex
			case "nz":
				header.HasNormals = true
				header.NormalIndices[2] = propIndex
			case "red", "r":
				header.HasColors = true
				header.ColorIndices[0] = propIndex
			case "green", "g":
				header.HasColors = true
				header.ColorIndices[1] = propIndex
			case "blue", "b":
				header.HasColors = true
				header.ColorIndices[2] = propIndex
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("error reading header: %w", err)
	}

	return header, bytesRead, nil
}

// parsePLYProperty parses a property line from the PLY header
func parsePLYProperty(parts []string) (PLYProperty, error) {
	if len(parts) < 2 {
		return PLYProperty{}, fmt.Errorf("invalid property definition")
	}

	prop := PLYProperty{}
	if parts[0] == "list" {
		if len(parts) < 4 {
			return PLYProperty{}, fmt.Errorf("invalid list property definition")
		}
		prop.IsList = true
		prop.ListType = parts[1]
		prop.DataType = parts[2]
		prop.Name = parts[3]
	} else {
		prop.Type = parts[0]
		prop.Name = parts[1]
	}
	return prop, nil
}

// readBinaryLittleEndian reads binary little-endian vertex data
func readBinaryLittleEndian(file *os.File, header *PLYHeader) (*PointCloud, error) {
	cloud := newCloud(header)
	reader := bufio.NewReader(file)

	values := make([]float64, len(header.VertexProps))
	for i := 0; i < header.VertexCount; i++ {
		for p, prop := range header.VertexProps {
			v, err := readBinaryValue(reader, prop.Type)
			if err != nil {
				return nil, fmt.Errorf("failed to read vertex %d: %w", i, err)
			}
			values[p] = v
		}
		appendVertex(cloud, header, values)
	}
	return cloud, nil
}

// readASCII reads whitespace-separated vertex data
func readASCII(file *os.File, header *PLYHeader) (*PointCloud, error) {
	cloud := newCloud(header)
	scanner := bufio.NewScanner(file)

	values := make([]float64, len(header.VertexProps))
	for i := 0; i < header.VertexCount && scanner.Scan(); i++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) < len(header.VertexProps) {
			return nil, fmt.Errorf("vertex %d: expected %d values, got %d", i, len(header.VertexProps), len(fields))
		}
		for p := range header.VertexProps {
			v, err := strconv.ParseFloat(fields[p], 64)
			if err != nil {
				return nil, fmt.Errorf("vertex %d: %w", i, err)
			}
			values[p] = v
		}
		appendVertex(cloud, header, values)
	}

	if len(cloud.Points) != header.VertexCount {
		return nil, fmt.Errorf("expected %d vertices, read %d", header.VertexCount, len(cloud.Points))
	}
	return cloud, scanner.Err()
}

func newCloud(header *PLYHeader) *PointCloud {
	cloud := &PointCloud{Points: make([]core.Vec3, 0, header.VertexCount)}
	if header.HasColors {
		cloud.Colors = make([]core.Vec3, 0, header.VertexCount)
	}
	if header.HasNormals {
		cloud.Normals = make([]core.Vec3, 0, header.VertexCount)
	}
	return cloud
}

func appendVertex(cloud *PointCloud, header *PLYHeader, values []float64) {
	// Positions are the first three scalar properties by PLY convention
	cloud.Points = append(cloud.Points, core.NewVec3(values[0], values[1], values[2]))
	if header.HasColors {
		ci := header.ColorIndices
		cloud.Colors = append(cloud.Colors, core.NewVec3(
			values[ci[0]]/255.0, values[ci[1]]/255.0, values[ci[2]]/255.0))
	}
	if header.HasNormals {
		ni := header.NormalIndices
		cloud.Normals = append(cloud.Normals, core.NewVec3(values[ni[0]], values[ni[1]], values[ni[2]]))
	}
}

// readBinaryValue reads a single typed scalar from the stream as float64
func readBinaryValue(r io.Reader, plyType string) (float64, error) {
	switch plyType {
	case "float", "float32":
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case "double", "float64":
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case "uchar", "uint8":
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case "char", "int8":
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case "short", "int16":
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case "ushort", "uint16":
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case "int", "int32":
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case "uint", "uint32":
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	default:
		return 0, fmt.Errorf("unsupported property type: %s", plyType)
	}
}
