package hdf5

import (
	"bytes"
	"fmt"
	"sort"
)

// symbolTable is an old-style group: a version 1 B-tree of symbol nodes
// whose names live in a local heap.
type symbolTable struct {
	btree uint64
	heap  uint64
}

// link is a named hard link to an object header.
type link struct {
	name string
	addr uint64
}

// linkHard is the link type of a hard link; soft (1) and external (64)
// links are not followed.
const linkHard = 0

// decodeLink decodes a link message. Soft and external links come back
// with an undefined address.
func (f *file) decodeLink(data []byte) (link, error) {
	d := f.decoder(data)
	if v := d.u8(); v != 1 {
		return link{}, unsupported("link message version %d", v)
	}
	flags := d.u8()
	typ := uint8(linkHard)
	if flags&0x08 != 0 {
		typ = d.u8()
	}
	if flags&0x04 != 0 {
		d.skip(8) // creation order
	}
	if flags&0x10 != 0 {
		d.skip(1) // character set
	}
	n := int(d.uvar(1 << (flags & 0x03)))
	name := string(d.take(n))

	l := link{name: name, addr: undefinedAddress}
	if typ == linkHard {
		l.addr = d.addr()
	}
	if d.err != nil {
		return link{}, d.err
	}
	return l, nil
}

// groupLinks lists the hard links of a group, ordered by name.
func (f *file) groupLinks(o *object) ([]link, error) {
	o.childrenOnce.Do(func() {
		var links []link
		switch {
		case o.symtab != nil:
			links, o.childrenErr = f.readSymbolTable(o.symtab)
		case o.denseHeap != undefinedAddress:
			o.childrenErr = unsupported("dense link storage")
		default:
			links = append(links, o.links...)
		}
		if o.childrenErr != nil {
			return
		}

		kept := links[:0]
		for _, l := range links {
			if l.addr != undefinedAddress && l.name != "" && l.name != "." && l.name != ".." {
				kept = append(kept, l)
			}
		}
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].name < kept[j].name })
		o.children = kept
	})
	return o.children, o.childrenErr
}

// readSymbolTable walks the group B-tree (node type 0) down to its symbol
// table nodes and resolves each entry's name in the local heap.
func (f *file) readSymbolTable(st *symbolTable) ([]link, error) {
	heap, err := f.readLocalHeap(st.heap)
	if err != nil {
		return nil, err
	}

	var links []link
	if err := f.walkGroupTree(st.btree, heap, &links, 0); err != nil {
		return nil, err
	}
	return links, nil
}

func (f *file) walkGroupTree(addr uint64, heap []byte, links *[]link, depth int) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("hdf5: group b-tree deeper than %d", maxTreeDepth)
	}

	headSize := 8 + 2*f.offsetSize
	head, err := f.readAt(addr, headSize)
	if err != nil {
		return err
	}
	d := f.decoder(head)
	if err := d.signature("TREE"); err != nil {
		return err
	}
	if typ := d.u8(); typ != 0 {
		return fmt.Errorf("hdf5: group b-tree node of type %d", typ)
	}
	level := d.u8()
	entries := int(d.u16())

	body, err := f.readAt(addr+uint64(headSize), entries*(f.lengthSize+f.offsetSize)+f.lengthSize)
	if err != nil {
		return err
	}
	d = f.decoder(body)
	for range entries {
		d.length() // key: heap offset of the largest name to the left
		child := d.addr()
		if d.err != nil {
			return d.err
		}

		if level > 0 {
			err = f.walkGroupTree(child, heap, links, depth+1)
		} else {
			err = f.readSymbolNode(child, heap, links)
		}
		if err != nil {
			return err
		}
	}
	return d.err
}

// readSymbolNode decodes one "SNOD" block. Entries caching a soft link
// (cache type 2) are skipped.
func (f *file) readSymbolNode(addr uint64, heap []byte, links *[]link) error {
	head, err := f.readAt(addr, 8)
	if err != nil {
		return err
	}
	d := f.decoder(head)
	if err := d.signature("SNOD"); err != nil {
		return err
	}
	if v := d.u8(); v != 1 {
		return unsupported("symbol table node version %d", v)
	}
	d.skip(1)
	count := int(d.u16())

	entrySize := 2*f.offsetSize + 4 + 4 + 16
	body, err := f.readAt(addr+8, count*entrySize)
	if err != nil {
		return err
	}
	d = f.decoder(body)
	for range count {
		nameOffset := d.length()
		obj := d.addr()
		cache := d.u32()
		d.skip(4 + 16)
		if d.err != nil {
			return d.err
		}
		if cache == 2 {
			continue
		}

		name, err := heapString(heap, nameOffset)
		if err != nil {
			return err
		}
		*links = append(*links, link{name: name, addr: obj})
	}
	return nil
}

// readLocalHeap returns the data segment of a local heap.
func (f *file) readLocalHeap(addr uint64) ([]byte, error) {
	head, err := f.readAt(addr, 8+2*f.lengthSize+f.offsetSize)
	if err != nil {
		return nil, err
	}
	d := f.decoder(head)
	if err := d.signature("HEAP"); err != nil {
		return nil, err
	}
	if v := d.u8(); v != 0 {
		return nil, unsupported("local heap version %d", v)
	}
	d.skip(3)
	size := d.length()
	d.length() // free list offset
	data := d.addr()
	if d.err != nil {
		return nil, d.err
	}
	if size > 1<<30 {
		return nil, fmt.Errorf("hdf5: local heap of %d bytes", size)
	}
	return f.readAt(data, int(size))
}

func heapString(heap []byte, off uint64) (string, error) {
	if off >= uint64(len(heap)) {
		return "", fmt.Errorf("hdf5: heap offset %d outside %d-byte heap", off, len(heap))
	}
	s := heap[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}
