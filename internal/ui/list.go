package ui

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"slices"

	"github.com/disintegration/imaging"

	"epdtouch/internal/touch"
)

var (
	// ErrRegionCountMismatch is returned when items, icons and funcs of a
	// list mutation differ in length.
	ErrRegionCountMismatch = errors.New("ui: items, icons and funcs differ in length")
	// ErrItemNotFound is returned when removing an item that is not listed.
	ErrItemNotFound = errors.New("ui: item not found")
)

const (
	listRows       = 3
	listTitleSize  = 16
	listRowTop     = 31
	listRowHeight  = 30
	listIconOffset = 35
)

type listState struct {
	items []string
	icons []image.Image
	funcs []func()
	at    int
}

func (s listState) clone() listState {
	return listState{
		items: append([]string(nil), s.items...),
		icons: append([]image.Image(nil), s.icons...),
		funcs: append([]func(){}, s.funcs...),
		at:    s.at,
	}
}

// ListPage is a paginated list of three rows per screen. Each row has a
// label, an optional 20px icon and a tap handler.
type ListPage struct {
	page  *Page
	title string
	fonts *Fonts
	state listState
}

// NewListPage builds a list. icons and funcs may be nil; otherwise they must
// match items in length.
func NewListPage(title string, items []string, icons []image.Image, funcs []func()) (*ListPage, error) {
	l := &ListPage{title: title, fonts: DefaultFonts()}
	l.page = NewPage(listBackground())
	l.page.paint = l.paint
	for i := 0; i < listRows; i++ {
		y := listRowTop + i*listRowHeight
		l.page.AddRecord(touch.OnClick(touch.Rect(0, Width, y, y+listRowHeight), l.tapRow, i))
	}
	l.page.AddRecord(touch.OnSlideY(touch.Rect(0, Width, 0, Height), l.slide))

	if err := l.SetItems(items, icons, funcs, false); err != nil {
		return nil, err
	}
	return l, nil
}

// Page returns the page to put in a Book.
func (l *ListPage) Page() *Page { return l.page }

// Items returns a copy of the item labels.
func (l *ListPage) Items() []string { return append([]string(nil), l.state.items...) }

// At returns the index of the visible group of three.
func (l *ListPage) At() int { return l.state.at }

// Pages returns the number of groups, at least 1.
func (l *ListPage) Pages() int {
	n := (len(l.state.items) + listRows - 1) / listRows
	if n == 0 {
		return 1
	}
	return n
}

// SetTitle replaces the header text.
func (l *ListPage) SetTitle(title string, update bool) {
	l.title = title
	l.changed(update)
}

// Append adds items at the end.
func (l *ListPage) Append(items []string, icons []image.Image, funcs []func(), update bool) error {
	return l.apply(update, func(s *listState) error {
		icons, funcs, err := fill(items, icons, funcs)
		if err != nil {
			return err
		}
		s.items = append(s.items, items...)
		s.icons = append(s.icons, icons...)
		s.funcs = append(s.funcs, funcs...)
		return nil
	})
}

// Insert adds items before index. The index is clamped to the list.
func (l *ListPage) Insert(index int, items []string, icons []image.Image, funcs []func(), update bool) error {
	return l.apply(update, func(s *listState) error {
		icons, funcs, err := fill(items, icons, funcs)
		if err != nil {
			return err
		}
		if index < 0 {
			index = 0
		}
		if index > len(s.items) {
			index = len(s.items)
		}
		s.items = slices.Insert(s.items, index, items...)
		s.icons = slices.Insert(s.icons, index, icons...)
		s.funcs = slices.Insert(s.funcs, index, funcs...)
		return nil
	})
}

// Remove deletes the first item labelled item and rewinds to the first
// group.
func (l *ListPage) Remove(item string, update bool) error {
	return l.apply(update, func(s *listState) error {
		for i, it := range s.items {
			if it != item {
				continue
			}
			s.items = slices.Delete(s.items, i, i+1)
			s.icons = slices.Delete(s.icons, i, i+1)
			s.funcs = slices.Delete(s.funcs, i, i+1)
			s.at = 0
			return nil
		}
		return fmt.Errorf("%w: %q", ErrItemNotFound, item)
	})
}

// SetItems replaces the whole list and rewinds to the first group.
func (l *ListPage) SetItems(items []string, icons []image.Image, funcs []func(), update bool) error {
	return l.apply(update, func(s *listState) error {
		icons, funcs, err := fill(items, icons, funcs)
		if err != nil {
			return err
		}
		*s = listState{
			items: append([]string(nil), items...),
			icons: icons,
			funcs: funcs,
		}
		return nil
	})
}

// Clear empties the list.
func (l *ListPage) Clear(update bool) error {
	return l.apply(update, func(s *listState) error {
		*s = listState{}
		return nil
	})
}

// Next shows the following group. It reports false when the last group is
// already visible.
func (l *ListPage) Next() bool {
	if (l.state.at+1)*listRows >= len(l.state.items) {
		return false
	}
	return l.apply(true, func(s *listState) error {
		s.at++
		return nil
	}) == nil
}

// Prev shows the previous group. It reports false at the first group.
func (l *ListPage) Prev() bool {
	if l.state.at == 0 {
		return false
	}
	return l.apply(true, func(s *listState) error {
		s.at--
		return nil
	}) == nil
}

// apply is the single mutation path. fn edits a copy of the state; the copy
// is committed only when fn succeeds and the three lists agree in length.
func (l *ListPage) apply(update bool, fn func(s *listState) error) error {
	next := l.state.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if len(next.items) != len(next.icons) || len(next.items) != len(next.funcs) {
		return fmt.Errorf("%w: %d items, %d icons, %d funcs",
			ErrRegionCountMismatch, len(next.items), len(next.icons), len(next.funcs))
	}
	if next.at < 0 {
		next.at = 0
	}
	l.state = next
	l.changed(update)
	return nil
}

func (l *ListPage) changed(update bool) {
	if update {
		l.page.Update()
		return
	}
	l.page.invalidate()
}

// fill defaults nil icons and funcs and checks explicit ones match items.
func fill(items []string, icons []image.Image, funcs []func()) ([]image.Image, []func(), error) {
	if icons == nil {
		icons = make([]image.Image, len(items))
	}
	if funcs == nil {
		funcs = make([]func(), len(items))
	}
	if len(icons) != len(items) || len(funcs) != len(items) {
		return nil, nil, fmt.Errorf("%w: %d items, %d icons, %d funcs",
			ErrRegionCountMismatch, len(items), len(icons), len(funcs))
	}
	return append([]image.Image(nil), icons...), append([]func(){}, funcs...), nil
}

func (l *ListPage) tapRow(row int) {
	i := l.state.at*listRows + row
	if i >= len(l.state.funcs) {
		return
	}
	if fn := l.state.funcs[i]; fn != nil {
		fn()
	}
}

func (l *ListPage) slide(delta int) {
	if delta < 0 {
		l.Next()
		return
	}
	l.Prev()
}

func (l *ListPage) paint(dst *image.NRGBA) {
	s := l.state
	title := l.fonts.Face(listTitleSize)
	drawText(dst, image.Pt(10, 8), l.title, color.Black, title, 0)
	drawText(dst, image.Pt(254, 8), fmt.Sprintf("%d/%d", s.at+1, l.Pages()), color.Black, title, 0)

	for row := 0; row < listRows; row++ {
		i := s.at*listRows + row
		if i >= len(s.items) {
			break
		}
		y := listRowTop + 6 + row*listRowHeight
		x := 8
		if icon := s.icons[i]; icon != nil {
			r := icon.Bounds().Sub(icon.Bounds().Min).Add(image.Pt(8, y))
			draw.Draw(dst, r, icon, icon.Bounds().Min, draw.Over)
			x = listIconOffset
		}
		drawText(dst, image.Pt(x, y+1), s.items[i], color.Black, title, 0)
	}

	if (s.at+1)*listRows < len(s.items) {
		moreMarker(dst, image.Pt(Width/2-4, Height-6))
	}
}

// moreMarker draws a small down arrow hinting at further groups.
func moreMarker(dst *image.NRGBA, at image.Point) {
	for i := 0; i < 4; i++ {
		hline(dst, at.X+i, at.X+8-i, at.Y+i, color.Black)
	}
}

// listBackground draws the header rule and row separators.
func listBackground() *image.NRGBA {
	bg := imaging.New(Width, Height, color.White)
	hline(bg, 0, Width, listRowTop-1, color.Black)
	for i := 1; i < listRows; i++ {
		hline(bg, 6, Width-6, listRowTop+i*listRowHeight-1, color.Black)
	}
	return bg
}
