package main

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/jonboulle/clockwork"

	appLog "epdtouch/internal/log"
	"epdtouch/internal/screen"
	"epdtouch/internal/touch"
	"epdtouch/internal/ui"
)

// buildApps installs the home theme, the drawer and the bundled apps.
func buildApps(rt *ui.Runtime, scr *screen.Screen, clock clockwork.Clock) error {
	home := ui.NewPage(nil)
	title := ui.NewText(image.Pt(12, 40), "epdtouch")
	title.SetFontSize(28, false)
	hint := ui.NewLabel(image.Pt(12, 86), image.Pt(272, 20), "Tap the top edge for apps")
	home.Add(title, hint)
	ui.NewTheme(rt, ui.NewBook(home))

	if _, err := ui.NewDrawer(rt); err != nil {
		return err
	}
	if err := buildStatus(rt, scr, clock); err != nil {
		return err
	}
	if err := buildSettings(rt, scr); err != nil {
		return err
	}
	return buildNotes(rt)
}

func buildSettings(rt *ui.Runtime, scr *screen.Screen) error {
	var list *ui.ListPage
	items := []string{"Clean refresh", "Sleep panel", "Panel status"}
	funcs := []func(){
		func() {
			scr.ForceFull()
			list.Page().Update()
		},
		func() {
			if err := scr.Sleep(context.Background()); err != nil {
				appLog.Error("manual sleep failed", err)
			}
		},
		func() {
			if err := rt.OpenApp("status"); err != nil {
				appLog.Warn("open status failed", "err", err)
			}
		},
	}
	list, err := ui.NewListPage("Settings", items, nil, funcs)
	if err != nil {
		return err
	}
	_, err = ui.NewApp(rt, ui.SettingsName, "Settings", nil, ui.NewBook(list.Page()))
	return err
}

func buildStatus(rt *ui.Runtime, scr *screen.Screen, clock clockwork.Clock) error {
	page := ui.NewPage(nil)
	body := ui.NewMultilineLabel(image.Pt(8, 34), image.Pt(280, 90), "")
	body.SetSpacing(2, false)
	page.Add(body)

	app, err := ui.NewApp(rt, "status", "Status", nil, ui.NewBook(page))
	if err != nil {
		return err
	}
	app.OnActivate(func() {
		st := scr.Snapshot()
		idle := clock.Since(st.LastDisplay).Round(time.Second)
		body.SetText(fmt.Sprintf("%s, %d/%d partials. full %d, partial %d, sleeps %d. idle %s.",
			st.State, st.Partials, st.Threshold, st.Fulls, st.PartialsAll, st.Sleeps, idle), false)
	})
	return nil
}

var notes = []string{
	"Swipe left or right to turn pages. Tap the top-right corner for the control bar.",
	"Partial refreshes are fast but leave ghosting; every sixtieth one is a full refresh.",
	"The panel sleeps after ten idle minutes and wakes with a full refresh on the next touch.",
}

func buildNotes(rt *ui.Runtime) error {
	book := ui.NewBook()
	for i, text := range notes {
		page := ui.NewPage(nil)
		page.Add(
			ui.NewMultilineLabel(image.Pt(8, 34), image.Pt(280, 80), text),
			ui.NewLabel(image.Pt(250, 110), image.Pt(40, 16), fmt.Sprintf("%d/%d", i+1, len(notes))),
		)
		page.AddRecord(touch.OnSlideX(touch.Rect(0, ui.Width, 30, ui.Height), func(delta int) {
			next := book.Index() + 1
			if delta > 0 {
				next = book.Index() - 1
			}
			if next < 0 || next >= book.Len() {
				return
			}
			if err := book.SetPage(next); err != nil {
				appLog.Warn("notes page", "err", err)
			}
		}))
		book.Add(page)
	}
	_, err := ui.NewApp(rt, "notes", "Notes", nil, book)
	return err
}
