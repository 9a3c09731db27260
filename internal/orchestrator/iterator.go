package orchestrator

// StreamRef is a stable (file_index, stream_index) coordinate. The core
// never holds owning references across files: all real ownership stays in
// InputFile.Streams / OutputFile.Streams, and cross-references travel as
// StreamRef values.
type StreamRef struct {
	File, Stream int
}

// InputIterator provides deterministic forward traversal over every
// InputStream across every InputFile. It holds no allocation beyond the
// slice of files it was built from. Each Next resumes after the element the
// previous call returned, and Reset rewinds to the first element; there is
// no way to start from an arbitrary given element.
type InputIterator struct {
	files  []*InputFile
	fi     int
	cursor int
}

func NewInputIterator(files []*InputFile) *InputIterator {
	return &InputIterator{files: files}
}

// Next returns the next stream ref and stream, or ok=false when exhausted.
func (it *InputIterator) Next() (ref StreamRef, is *InputStream, ok bool) {
	for it.fi < len(it.files) {
		f := it.files[it.fi]
		if it.cursor < len(f.Streams) {
			si := it.cursor
			it.cursor++
			return StreamRef{File: f.Index, Stream: si}, f.Streams[si], true
		}
		it.fi++
		it.cursor = 0
	}
	return StreamRef{}, nil, false
}

// Reset rewinds the iterator to the first element.
func (it *InputIterator) Reset() {
	it.fi = 0
	it.cursor = 0
}

// OutputIterator is the output-side twin of InputIterator.
type OutputIterator struct {
	files  []*OutputFile
	fi     int
	cursor int
}

func NewOutputIterator(files []*OutputFile) *OutputIterator {
	return &OutputIterator{files: files}
}

func (it *OutputIterator) Next() (ref StreamRef, os *OutputStream, ok bool) {
	for it.fi < len(it.files) {
		f := it.files[it.fi]
		if it.cursor < len(f.Streams) {
			si := it.cursor
			it.cursor++
			return StreamRef{File: f.Index, Stream: si}, f.Streams[si], true
		}
		it.fi++
		it.cursor = 0
	}
	return StreamRef{}, nil, false
}

func (it *OutputIterator) Reset() {
	it.fi = 0
	it.cursor = 0
}

// AllOutputs returns every OutputStream across every OutputFile, in stable
// (file index, then stream index) order. Used by "do X for every
// OutputStream" callers such as the Progress Reporter and the selector.
func AllOutputs(files []*OutputFile) []*OutputStream {
	var out []*OutputStream
	it := NewOutputIterator(files)
	for {
		_, os, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, os)
	}
	return out
}

// AllInputs is the input-side twin of AllOutputs.
func AllInputs(files []*InputFile) []*InputStream {
	var out []*InputStream
	it := NewInputIterator(files)
	for {
		_, is, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, is)
	}
	return out
}
