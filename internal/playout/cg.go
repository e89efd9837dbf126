package playout

import (
	"context"
	"fmt"

	"github.com/danmuck/tvremote/internal/remote"
)

// CGElementsController drives the on-air graphics: crawl, logo and
// parental rating selection.
type CGElementsController struct {
	*remote.Object
}

func NewCGElementsController() *CGElementsController {
	c := &CGElementsController{}
	c.Object = remote.NewObject(CGControllerType, c)
	c.Set("IsConnected", true)
	c.Set("IsMaster", true)
	c.Set("Crawls", []CGElement{{ID: 0, Name: "none"}, {ID: 1, Name: "news"}, {ID: 2, Name: "weather"}})
	c.Set("Logos", []CGElement{{ID: 0, Name: "none"}, {ID: 1, Name: "station"}})
	c.Set("Parentals", []CGElement{{ID: 0, Name: "none"}, {ID: 1, Name: "7+"}, {ID: 2, Name: "12+"}, {ID: 3, Name: "16+"}, {ID: 4, Name: "18+"}})
	c.Set("DefaultCrawl", uint8(1))
	c.Set("DefaultLogo", uint8(1))
	c.Set("Crawl", uint8(0))
	c.Set("Logo", uint8(0))
	c.Set("Parental", uint8(0))
	return c
}

func (c *CGElementsController) IsCGEnabled() bool {
	return remote.GetAs[bool](c.Object, "IsCGEnabled")
}

// SetRemote validates element selections against the available lists.
func (c *CGElementsController) SetRemote(_ context.Context, name string, value any) error {
	var list string
	switch name {
	case "Crawl":
		list = "Crawls"
	case "Logo":
		list = "Logos"
	case "Parental":
		list = "Parentals"
	}
	if list != "" {
		id, _ := value.(uint8)
		if !c.hasElement(list, id) {
			return fmt.Errorf("playout: %s has no element %d", list, id)
		}
	}
	c.Set(name, value)
	return nil
}

func (c *CGElementsController) hasElement(list string, id uint8) bool {
	for _, el := range remote.GetAs[[]CGElement](c.Object, list) {
		if el.ID == id {
			return true
		}
	}
	return false
}

// Clear takes every element off air.
func (c *CGElementsController) Clear() {
	c.Set("Crawl", uint8(0))
	c.Set("Logo", uint8(0))
	c.Set("Parental", uint8(0))
}

// SetState applies a whole state; invalid selections are rejected before
// anything changes.
func (c *CGElementsController) SetState(state CGState) error {
	if !c.hasElement("Crawls", state.Crawl) || !c.hasElement("Logos", state.Logo) || !c.hasElement("Parentals", state.Parental) {
		return fmt.Errorf("playout: invalid cg state %+v", state)
	}
	c.Set("IsCGEnabled", state.IsCGEnabled)
	c.Set("Crawl", state.Crawl)
	c.Set("Logo", state.Logo)
	c.Set("Parental", state.Parental)
	if state.IsCGEnabled {
		c.Emit("Started")
	}
	return nil
}

func cgClearMethod(_ context.Context, target remote.Replicable, _ remote.Values) (any, error) {
	target.(*CGElementsController).Clear()
	return nil, nil
}

func cgSetStateMethod(_ context.Context, target remote.Replicable, args remote.Values) (any, error) {
	state, err := remote.Arg[CGState](args, 0)
	if err != nil {
		return nil, err
	}
	return nil, target.(*CGElementsController).SetState(state)
}
