package codec

import "io"

// chunkReader отдает сохраненные чанки по порядку. Перемотки нет: поток читается один раз.
type chunkReader struct {
	chunks [][]byte
	cur    []byte
}

func newChunkReader(chunks [][]byte) *chunkReader {
	return &chunkReader{chunks: chunks}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if len(r.chunks) == 0 {
			return 0, io.EOF
		}
		r.cur, r.chunks = r.chunks[0], r.chunks[1:]
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}
