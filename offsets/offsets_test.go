package offsets

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nxadm/tail"
	. "github.com/smartystreets/goconvey/convey"
)

func Test_EndToEnd(t *testing.T) {
	Convey("Testing end to end", t, func() {
		filename := "/tmp/loki_load_test.log"
		path := filepath.Join(t.TempDir(), "offsets.json")

		Convey("Store can write and reload from disk", func() {
			first := &tail.SeekInfo{Offset: 10, Whence: io.SeekStart}
			second := &tail.SeekInfo{Offset: 12, Whence: io.SeekStart}

			orig := NewStore(path)
			orig.Set(filename, first)
			orig.Set(filename, second)

			err := orig.Persist()
			So(err, ShouldBeNil)

			reloaded := NewStore(path)
			err = reloaded.Load()
			So(err, ShouldBeNil)

			So(reloaded.Get(filename), ShouldResemble, second)
		})

		Convey("Keys that are set are returned", func() {
			store := NewStore(path)
			sought := &tail.SeekInfo{Offset: 10, Whence: io.SeekStart}

			store.Set("a filename", sought)

			So(store.Get("a filename"), ShouldEqual, sought)
		})

		Convey("Keys that are deleted are not returned", func() {
			store := NewStore(path)
			store.Set("a filename", &tail.SeekInfo{Offset: 10, Whence: io.SeekStart})
			store.Del("a filename")
			So(store.Get("a filename"), ShouldBeNil)

			So(store.Persist(), ShouldBeNil)
			reloaded := NewStore(path)
			So(reloaded.Load(), ShouldBeNil)
			So(reloaded.Get("a filename"), ShouldBeNil)
		})

		Convey("Persisting leaves no temp files behind", func() {
			store := NewStore(path)
			store.Set(filename, &tail.SeekInfo{Offset: 1})
			So(store.Persist(), ShouldBeNil)

			entries, err := os.ReadDir(filepath.Dir(path))
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
		})
	})
}

func Test_Load(t *testing.T) {
	Convey("Load()", t, func() {
		Convey("treats a missing file as empty", func() {
			store := NewStore(filepath.Join(t.TempDir(), "nope.json"))

			err := store.Load()
			So(err, ShouldBeNil)
			So(store.Get("anything"), ShouldBeNil)
		})

		Convey("errors when the file can't be decoded", func() {
			path := filepath.Join(t.TempDir(), "offsets.json")
			err := os.WriteFile(path, []byte("not json"), 0644)
			So(err, ShouldBeNil)

			store := NewStore(path)
			err = store.Load()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to decode offsets from")
		})
	})
}

func Test_Persist(t *testing.T) {
	Convey("Persist()", t, func() {
		Convey("errors when the file can't be written", func() {
			store := NewStore("/does/not/exist/offsets.json")

			err := store.Persist()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to persist offsets to /does/not/exist/offsets.json")
		})
	})
}
