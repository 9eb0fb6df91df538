package negotiate

import "github.com/pion/webrtc/v4"

type fakeCapture struct {
	closes int
}

func (c *fakeCapture) Track() webrtc.TrackLocal { return nil }

func (c *fakeCapture) Close() error {
	c.closes++
	return nil
}
