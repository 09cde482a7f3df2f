package platform

// RemoveAll unlinks every named resource belonging to one logical buffer:
// the shared-memory segment, both semaphores, and the lock file. Spec §4.7
// reserves this for two call sites: a Reader's own close, and the
// create-or-recover retry when an existing buffer's lock-holder has died.
func RemoveAll(ns Namespace, names Names) error {
	if err := RemoveShm(ns.ShmPath(names.Shm)); err != nil {
		return err
	}
	if err := RemoveSemaphore(ns.SemPath(names.SemW)); err != nil {
		return err
	}
	if err := RemoveSemaphore(ns.SemPath(names.SemR)); err != nil {
		return err
	}
	return RemoveLockFile(ns.LockPath(names.LockID))
}
